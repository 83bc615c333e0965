package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/schaermu/gitsyncd/internal/activation"
	"github.com/schaermu/gitsyncd/internal/config"
	"github.com/schaermu/gitsyncd/internal/metrics"
)

// DebounceDelay is how long a webhook waits for further pushes before
// requesting a sync
const DebounceDelay = 2 * time.Second

// GitHubPushEvent represents the relevant fields from a GitHub push webhook
type GitHubPushEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// TriggerFunc requests a sync cycle. It must not block.
type TriggerFunc func(reason string)

// StatusFunc reports the engine state for health checks
type StatusFunc func() string

// Server serves the webhook, metrics and health endpoints
type Server struct {
	serve      config.ServeConfig
	repository string
	branch     string
	logger     *slog.Logger
	secret     []byte
	trigger    TriggerFunc
	status     StatusFunc
	debounce   *debouncer
}

// debouncer implements debouncing for webhook events
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
}

// NewServer creates a new webhook server
func NewServer(cfg *config.Config, trigger TriggerFunc, status StatusFunc, logger *slog.Logger) (*Server, error) {
	// Load webhook secret from file
	secret, err := os.ReadFile(cfg.Serve.GitHubWebhookSecretFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook secret: %w", err)
	}

	// Trim any whitespace/newlines from secret
	secret = []byte(strings.TrimSpace(string(secret)))
	if len(secret) == 0 {
		return nil, fmt.Errorf("webhook secret file %s is empty", cfg.Serve.GitHubWebhookSecretFile)
	}

	if status == nil {
		status = func() string { return "unknown" }
	}

	return &Server{
		serve:      cfg.Serve,
		repository: cfg.Repository,
		branch:     cfg.Branch,
		logger:     logger,
		secret:     secret,
		trigger:    trigger,
		status:     status,
		debounce:   &debouncer{delay: DebounceDelay},
	}, nil
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start listens on the configured address, or on the socket handed over by
// systemd, and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	l, activated, err := activation.Listen(s.serve.ListenAddr)
	if err != nil {
		return err
	}
	if activated {
		s.logger.Info("using socket-activated listener", "addr", l.Addr().String())
	}
	return s.Serve(ctx, l)
}

// Serve serves on l until ctx is cancelled. l is closed on return.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("webhook server starting", "addr", l.Addr().String())
		if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down webhook server")
		s.debounce.stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		s.debounce.stop()
		return err
	}
}

// handleHealth reports liveness and the engine state
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"state":  s.status(),
	})
}

// handleWebhook handles incoming GitHub webhook requests
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	// Only accept POST requests
	if r.Method != http.MethodPost {
		s.logger.Warn("rejecting non-POST request", "method", r.Method)
		metrics.RecordWebhook("rejected")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Check content type
	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" {
		s.logger.Warn("rejecting request with invalid content type", "content_type", contentType)
		metrics.RecordWebhook("rejected")
		http.Error(w, "Invalid content type", http.StatusBadRequest)
		return
	}

	// Read body
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MB limit
	if err != nil {
		s.logger.Error("failed to read request body", "error", err)
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	// Verify signature
	signature := r.Header.Get("X-Hub-Signature-256")
	if !s.verifySignature(body, signature) {
		s.logger.Warn("rejecting request with invalid signature")
		metrics.RecordWebhook("rejected")
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	// Parse event type
	eventType := r.Header.Get("X-GitHub-Event")
	s.logger.Info("received webhook", "event", eventType)

	// Check if event type is allowed
	if !s.isEventTypeAllowed(eventType) {
		s.logger.Info("ignoring disallowed event type", "event", eventType)
		s.ignore(w, "Event type not configured for sync\n")
		return
	}

	// Parse push event
	var event GitHubPushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.logger.Error("failed to parse webhook payload", "error", err)
		metrics.RecordWebhook("rejected")
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	if event.Repository.FullName != "" && !strings.EqualFold(event.Repository.FullName, s.repository) {
		s.logger.Info("ignoring push for another repository", "repo", event.Repository.FullName)
		s.ignore(w, "Repository not configured for sync\n")
		return
	}

	// Check if ref is allowed
	if !s.isRefAllowed(event.Ref) {
		s.logger.Info("ignoring disallowed ref", "ref", event.Ref)
		s.ignore(w, "Ref not configured for sync\n")
		return
	}

	s.logger.Info("webhook accepted",
		"event", eventType,
		"ref", event.Ref,
		"commit", event.After,
		"repo", event.Repository.FullName)
	metrics.RecordWebhook("accepted")

	// Trigger debounced sync
	s.debounce.trigger(func() {
		s.trigger("webhook")
	})

	w.WriteHeader(http.StatusAccepted)
	_, _ = fmt.Fprintf(w, "Sync triggered\n")
}

func (s *Server) ignore(w http.ResponseWriter, msg string) {
	metrics.RecordWebhook("ignored")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, msg)
}

// verifySignature verifies the GitHub webhook signature
func (s *Server) verifySignature(body []byte, signature string) bool {
	// GitHub signature format: sha256=<hex>
	hexSig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok || hexSig == "" {
		return false
	}

	// Compute expected signature
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	// Constant-time comparison
	return hmac.Equal([]byte(hexSig), []byte(expected))
}

// isEventTypeAllowed checks if the event type is in the allowed list
func (s *Server) isEventTypeAllowed(eventType string) bool {
	if len(s.serve.AllowedEventTypes) == 0 {
		return eventType == "push"
	}
	return slices.Contains(s.serve.AllowedEventTypes, eventType)
}

// isRefAllowed checks if the ref is in the allowed list. Without a list only
// the synced branch is accepted.
func (s *Server) isRefAllowed(ref string) bool {
	if len(s.serve.AllowedRefs) == 0 {
		return ref == "refs/heads/"+s.branch
	}
	return slices.Contains(s.serve.AllowedRefs, ref)
}

// trigger schedules the callback to run after the debounce delay
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}

// stop cancels a pending callback
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.callback = nil
}
