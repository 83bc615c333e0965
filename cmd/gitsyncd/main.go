package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schaermu/gitsyncd/internal/config"
	"github.com/schaermu/gitsyncd/internal/daemon"
	"github.com/schaermu/gitsyncd/internal/git"
	"github.com/schaermu/gitsyncd/internal/metrics"
	"github.com/schaermu/gitsyncd/internal/remote"
	"github.com/schaermu/gitsyncd/internal/sync"
	"github.com/schaermu/gitsyncd/internal/watch"
	"github.com/schaermu/gitsyncd/internal/webhook"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	envName   string
	logLevel  string
	logFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gitsyncd",
	Short: "Keep a working directory in sync with its Git remote",
	Long: `gitsyncd continuously reconciles a local Git working directory with its remote.

Each cycle pulls the tracked branch, commits local changes and pushes them back,
retrying failed pushes with exponential backoff. Local file changes are watched
in real time and reported together with the files that depend on them.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run sync cycles continuously",
	Long: `Run initializes the engine, starts watching the working directory and runs a
sync cycle at the configured interval until interrupted.

When serve.listen_addr is configured, a webhook endpoint triggers immediate
cycles on GitHub push events and /metrics exposes Prometheus metrics.`,
	RunE: runDaemon,
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single sync cycle",
	Long: `Once initializes the engine and runs exactly one pull, commit and push cycle.
The command fails when the cycle fails, which makes it suitable for systemd timers.`,
	RunE: runOnce,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and remote access",
	RunE:  runCheck,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gitsyncd %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/gitsyncd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envName, "env", "", "configuration environment (development, staging, production; default $SYNC_ENV)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error; default from config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Add commands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, logger, closeLog, err := bootstrap()
	if err != nil {
		return err
	}
	defer closeLog()

	detector, err := watch.NewDetector(cfg.RepositoryPath, cfg.IgnorePatterns, logger,
		watch.WithWatchPatterns(cfg.WatchPatterns),
		watch.WithObserver(metrics.DetectorObserver{}))
	if err != nil {
		return fmt.Errorf("failed to create change detector: %w", err)
	}

	engine, err := newEngine(cfg, detector, logger)
	if err != nil {
		return err
	}
	if err := engine.Initialize(ctx); err != nil {
		logger.Error("initialization failed", "error", err)
		return err
	}
	defer engine.Shutdown()

	var d *daemon.Daemon
	opts := []daemon.Option{daemon.WithChangeSource(detector)}
	if cfg.ServeEnabled() {
		trigger := func(reason string) { d.Trigger(reason) }
		status := func() string { return engine.State().String() }
		srv, err := webhook.NewServer(cfg, trigger, status, logger)
		if err != nil {
			return fmt.Errorf("failed to create webhook server: %w", err)
		}
		opts = append(opts, daemon.WithServer(srv))
	}
	d = daemon.New(engine, cfg.Interval(), logger, opts...)

	logger.Info("gitsyncd started", "version", version, "interval", cfg.Interval())
	if err := d.Run(ctx); err != nil {
		logger.Error("daemon stopped with error", "error", err)
		return err
	}
	return nil
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, logger, closeLog, err := bootstrap()
	if err != nil {
		return err
	}
	defer closeLog()

	engine, err := newEngine(cfg, nil, logger)
	if err != nil {
		return err
	}
	if err := engine.Initialize(ctx); err != nil {
		logger.Error("initialization failed", "error", err)
		return err
	}
	defer engine.Shutdown()

	result := engine.RunCycle(ctx)
	if !result.Success {
		return fmt.Errorf("sync cycle %s failed: %w", result.ID, result.Err)
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, logger, closeLog, err := bootstrap()
	if err != nil {
		return err
	}
	defer closeLog()

	gitClient := git.NewShellClient(cfg.RepositoryPath, cfg.Remote, cfg.RemoteToken)
	if err := gitClient.IsRepository(ctx); err != nil {
		return fmt.Errorf("repository check failed: %w", err)
	}

	api := remote.NewClient(cfg.APIURL, cfg.Repository, cfg.RemoteToken)
	if err := api.CheckAccess(ctx); err != nil {
		return fmt.Errorf("remote check failed: %w", err)
	}

	logger.Info("configuration ok",
		"repository", cfg.Repository,
		"branch", cfg.Branch,
		"path", cfg.RepositoryPath)
	return nil
}

// newEngine wires the engine's collaborators. detector may be nil.
func newEngine(cfg *config.Config, detector *watch.Detector, logger *slog.Logger) (*sync.Engine, error) {
	gitClient := git.NewShellClient(cfg.RepositoryPath, cfg.Remote, cfg.RemoteToken)
	api := remote.NewClient(cfg.APIURL, cfg.Repository, cfg.RemoteToken)

	var det sync.Detector
	if detector != nil {
		det = detector
	}

	engine, err := sync.NewEngine(cfg, gitClient, api, det, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync engine: %w", err)
	}
	return engine, nil
}

// bootstrap loads the configuration and builds the final logger, which also
// writes to the configured log file. The returned func closes that file.
func bootstrap() (*config.Config, *slog.Logger, func(), error) {
	logger := setupLogger(logLevel, os.Stdout)

	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := logLevel
	if level == "" {
		level = cfg.LogLevel
	}

	out := io.Writer(os.Stdout)
	closeLog := func() {}
	if path := cfg.LogFilePath(); path != "" {
		f, err := openLogFile(path)
		if err != nil {
			return nil, nil, nil, err
		}
		out = io.MultiWriter(os.Stdout, f)
		closeLog = func() { _ = f.Close() }
	}

	return cfg, setupLogger(level, out), closeLog, nil
}

func setupLogger(levelName string, w io.Writer) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "gitsyncd", "config.yaml")
	}

	logger.Info("loading configuration", "path", configPath, "env", envName)

	cfg, err := config.Load(configPath, config.Environment(envName))
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"repository", cfg.Repository,
		"branch", cfg.Branch,
		"path", cfg.RepositoryPath,
		"interval", cfg.Interval(),
		"push_retries", cfg.Retries(),
		"auto_commit", cfg.AutoCommitEnabled())

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
