package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment selects an overlay section of the configuration file
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// ConflictStrategy names how pull conflicts are handled
type ConflictStrategy string

const (
	// ConflictNone surfaces the conflict as a failed cycle and changes nothing
	ConflictNone ConflictStrategy = "none"
)

const (
	DefaultRemote       = "origin"
	DefaultAPIURL       = "https://api.github.com"
	DefaultSyncInterval = 300
	DefaultPushRetries  = 3
	DefaultLogLevel     = "info"

	// TokenEnvVar is consulted when neither remote_token nor token_file is set
	TokenEnvVar = "GITHUB_TOKEN"
	// EnvironmentEnvVar selects the overlay when no environment is passed explicitly
	EnvironmentEnvVar = "SYNC_ENV"
)

// ConfigurationError reports a missing or invalid setting. It is fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func configErr(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Config represents the complete gitsyncd configuration
type Config struct {
	Repository     string `yaml:"repository"`
	Branch         string `yaml:"branch"`
	RepositoryPath string `yaml:"repository_path"`
	Remote         string `yaml:"remote"`
	APIURL         string `yaml:"api_url"`

	RemoteToken string `yaml:"remote_token"`
	TokenFile   string `yaml:"token_file"`

	SyncInterval     int              `yaml:"sync_interval"`
	PushRetries      *int             `yaml:"push_retries"`
	AutoCommit       *bool            `yaml:"auto_commit"`
	ConflictStrategy ConflictStrategy `yaml:"conflict_strategy"`

	WatchPatterns  []string            `yaml:"watch_patterns"`
	IgnorePatterns []string            `yaml:"ignore_patterns"`
	Dependencies   map[string][]string `yaml:"dependencies"`

	LogLevel string `yaml:"log_level"`
	LogPath  string `yaml:"log_path"`

	Serve ServeConfig `yaml:"serve"`

	Environments map[string]yaml.Node `yaml:"environments"`
}

// ServeConfig configures the webhook and metrics listener
type ServeConfig struct {
	ListenAddr              string   `yaml:"listen_addr"`
	GitHubWebhookSecretFile string   `yaml:"github_webhook_secret_file"`
	AllowedEventTypes       []string `yaml:"allowed_event_types"`
	AllowedRefs             []string `yaml:"allowed_refs"`
}

// Load reads and parses the configuration file, applying the overlay for env.
// An empty env falls back to $SYNC_ENV and then to development.
func Load(path string, env Environment) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, env)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse builds a Config from raw YAML
func Parse(data []byte, env Environment) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if env == "" {
		env = Environment(os.Getenv(EnvironmentEnvVar))
	}
	if env == "" {
		env = EnvDevelopment
	}
	if err := cfg.applyEnvironment(env); err != nil {
		return nil, err
	}

	cfg.expandEnv()

	if err := cfg.resolveToken(); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvironment decodes the overlay for env on top of the base settings.
// Keys absent from the overlay keep their base value.
func (c *Config) applyEnvironment(env Environment) error {
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return configErr("environment", "unknown environment %q (must be development, staging, or production)", env)
	}

	node, ok := c.Environments[string(env)]
	if !ok {
		return nil
	}
	if err := node.Decode(c); err != nil {
		return fmt.Errorf("failed to parse %s overlay: %w", env, err)
	}
	return nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Repository = os.ExpandEnv(c.Repository)
	c.Branch = os.ExpandEnv(c.Branch)
	c.RepositoryPath = os.ExpandEnv(c.RepositoryPath)
	c.APIURL = os.ExpandEnv(c.APIURL)
	c.RemoteToken = os.ExpandEnv(c.RemoteToken)
	c.TokenFile = os.ExpandEnv(c.TokenFile)
	c.LogPath = os.ExpandEnv(c.LogPath)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.GitHubWebhookSecretFile = os.ExpandEnv(c.Serve.GitHubWebhookSecretFile)
}

// resolveToken fills RemoteToken from token_file or $GITHUB_TOKEN
func (c *Config) resolveToken() error {
	if c.RemoteToken != "" {
		return nil
	}

	if c.TokenFile != "" {
		token, err := os.ReadFile(c.TokenFile)
		if err != nil {
			return configErr("token_file", "failed to read token file: %v", err)
		}
		c.RemoteToken = strings.TrimSpace(string(token))
		if c.RemoteToken == "" {
			return configErr("token_file", "token file %s is empty", c.TokenFile)
		}
		return nil
	}

	c.RemoteToken = strings.TrimSpace(os.Getenv(TokenEnvVar))
	return nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Remote == "" {
		c.Remote = DefaultRemote
	}
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.SyncInterval == 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.PushRetries == nil {
		n := DefaultPushRetries
		c.PushRetries = &n
	}
	if c.AutoCommit == nil {
		b := true
		c.AutoCommit = &b
	}
	if c.ConflictStrategy == "" {
		c.ConflictStrategy = ConflictNone
	}
	if len(c.WatchPatterns) == 0 {
		c.WatchPatterns = []string{"*"}
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Repository == "" {
		return configErr("repository", "is required")
	}
	if owner, name, ok := strings.Cut(c.Repository, "/"); !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return configErr("repository", "must be in owner/name form: %s", c.Repository)
	}
	if c.Branch == "" {
		return configErr("branch", "is required")
	}
	if c.RepositoryPath == "" {
		return configErr("repository_path", "is required")
	}
	if !filepath.IsAbs(c.RepositoryPath) {
		return configErr("repository_path", "must be an absolute path: %s", c.RepositoryPath)
	}
	if c.RemoteToken == "" {
		return configErr("remote_token", "no token configured (set remote_token, token_file, or $%s)", TokenEnvVar)
	}

	if c.SyncInterval < 0 {
		return configErr("sync_interval", "must be positive: %d", c.SyncInterval)
	}
	if c.PushRetries != nil && *c.PushRetries < 0 {
		return configErr("push_retries", "must not be negative: %d", *c.PushRetries)
	}

	switch c.ConflictStrategy {
	case ConflictNone, "":
		// valid
	default:
		return configErr("conflict_strategy", "unsupported strategy: %s (must be none)", c.ConflictStrategy)
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return configErr("log_level", "unknown level: %s", c.LogLevel)
	}

	if c.Serve.ListenAddr != "" && c.Serve.GitHubWebhookSecretFile == "" {
		return configErr("serve.github_webhook_secret_file", "is required when serve.listen_addr is set")
	}

	return nil
}

// Interval returns the pause between two cycles
func (c *Config) Interval() time.Duration {
	return time.Duration(c.SyncInterval) * time.Second
}

// Retries returns the configured push retry budget
func (c *Config) Retries() int {
	if c.PushRetries == nil {
		return DefaultPushRetries
	}
	return *c.PushRetries
}

// AutoCommitEnabled reports whether cycles commit and push local changes
func (c *Config) AutoCommitEnabled() bool {
	return c.AutoCommit == nil || *c.AutoCommit
}

// ServeEnabled reports whether the webhook and metrics listener should run
func (c *Config) ServeEnabled() bool {
	return c.Serve.ListenAddr != ""
}

// LogFilePath returns the file the daemon log is mirrored to, or "" when disabled
func (c *Config) LogFilePath() string {
	if c.LogPath == "" {
		return ""
	}
	return filepath.Join(c.LogPath, "gitsyncd.log")
}

