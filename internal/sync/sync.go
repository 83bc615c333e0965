package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/schaermu/gitsyncd/internal/config"
	"github.com/schaermu/gitsyncd/internal/git"
	"github.com/schaermu/gitsyncd/internal/metrics"
	"github.com/schaermu/gitsyncd/internal/remote"
)

// ErrCycleInProgress is reported when RunCycle is called while another cycle runs
var ErrCycleInProgress = errors.New("sync cycle already in progress")

// Detector is the part of the change detector the engine drives
type Detector interface {
	Start() error
	Stop()
	AddDependency(source, dependent string)
}

// Option configures an Engine
type Option func(*Engine)

// WithNotifier sets the hook told about failed cycles
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithConflictResolver replaces the resolver selected by configuration
func WithConflictResolver(r ConflictResolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithSleeper replaces the wait between push attempts
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) { e.sleep = s }
}

// WithBackoffUnit sets the unit multiplied by the exponential backoff factor
func WithBackoffUnit(d time.Duration) Option {
	return func(e *Engine) { e.backoffUnit = d }
}

// Engine reconciles the local repository with its remote
type Engine struct {
	cfg      *config.Config
	git      git.Client
	remote   remote.Checker
	detector Detector
	logger   *slog.Logger

	resolver    ConflictResolver
	notifier    Notifier
	sleep       Sleeper
	backoffUnit time.Duration

	running atomic.Bool
	state   atomic.Int32
}

// NewEngine creates a new sync engine. detector may be nil when no change
// monitoring is wanted.
func NewEngine(cfg *config.Config, gitClient git.Client, checker remote.Checker, detector Detector, logger *slog.Logger, opts ...Option) (*Engine, error) {
	resolver, err := NewConflictResolver(cfg.ConflictStrategy)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:         cfg,
		git:         gitClient,
		remote:      checker,
		detector:    detector,
		logger:      logger,
		resolver:    resolver,
		notifier:    NopNotifier{},
		sleep:       sleepContext,
		backoffUnit: time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// State returns the engine's current state
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	metrics.SetEngineState(int(s))
}

// Initialize verifies the repository and remote, prepares the branch and
// starts the change detector. Any failure is fatal for the engine.
func (e *Engine) Initialize(ctx context.Context) error {
	e.logger.Info("initializing sync engine",
		"repository", e.cfg.Repository,
		"branch", e.cfg.Branch,
		"path", e.cfg.RepositoryPath)

	if err := e.git.IsRepository(ctx); err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}

	if err := e.remote.CheckAccess(ctx); err != nil {
		return fmt.Errorf("failed to verify remote access: %w", err)
	}
	e.logger.Info("remote access verified")

	if err := e.ensureBranch(ctx); err != nil {
		return err
	}

	if e.detector != nil {
		e.seedDependencies()
		if err := e.detector.Start(); err != nil {
			return fmt.Errorf("failed to start change detector: %w", err)
		}
	}

	e.setState(StateIdle)
	e.logger.Info("sync engine initialized")
	return nil
}

// ensureBranch makes the configured branch exist locally, track the remote
// branch and be checked out
func (e *Engine) ensureBranch(ctx context.Context) error {
	branch := e.cfg.Branch
	remoteRef := e.cfg.Remote + "/" + branch

	if err := e.git.Fetch(ctx, branch); err != nil {
		return fmt.Errorf("failed to fetch %s: %w", remoteRef, err)
	}

	exists, err := e.git.HasLocalBranch(ctx, branch)
	if err != nil {
		return fmt.Errorf("failed to look up branch %s: %w", branch, err)
	}
	if !exists {
		e.logger.Info("creating local branch", "branch", branch, "from", remoteRef)
		if err := e.git.CreateLocalBranch(ctx, branch, remoteRef); err != nil {
			return fmt.Errorf("failed to create branch %s: %w", branch, err)
		}
	}

	if err := e.git.SetTrackingBranch(ctx, branch, remoteRef); err != nil {
		return fmt.Errorf("failed to track %s: %w", remoteRef, err)
	}

	current, err := e.git.CurrentBranch(ctx)
	if err != nil {
		return fmt.Errorf("failed to read current branch: %w", err)
	}
	if current != branch {
		e.logger.Info("checking out branch", "branch", branch, "previous", current)
		if err := e.git.Checkout(ctx, branch); err != nil {
			return fmt.Errorf("failed to check out %s: %w", branch, err)
		}
	}
	return nil
}

// seedDependencies loads the static dependency edges from configuration.
// Relative paths are taken relative to the repository.
func (e *Engine) seedDependencies() {
	for source, dependents := range e.cfg.Dependencies {
		for _, dependent := range dependents {
			e.detector.AddDependency(e.repoPath(source), e.repoPath(dependent))
		}
	}
}

func (e *Engine) repoPath(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(e.cfg.RepositoryPath, p)
}

// RunCycle performs one pull, diff, commit and push pass. It never panics and
// never returns an error directly: the outcome is in the result. Calls made
// while a cycle is running fail with ErrCycleInProgress.
func (e *Engine) RunCycle(ctx context.Context) (result CycleResult) {
	result = CycleResult{ID: uuid.NewString(), StartedAt: time.Now()}
	logger := e.logger.With("cycle_id", result.ID)

	if !e.running.CompareAndSwap(false, true) {
		result.Err = ErrCycleInProgress
		logger.Warn("skipping sync cycle", "reason", "previous cycle still running")
		metrics.RecordCycle(metrics.ResultSkipped, 0)
		return result
	}
	defer e.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Err = fmt.Errorf("panic during sync cycle: %v", r)
		}
		result.Duration = time.Since(result.StartedAt)
		e.finish(ctx, logger, result)
	}()

	logger.Info("starting sync cycle", "branch", e.cfg.Branch)
	result.Err = e.cycle(ctx, logger, &result)
	result.Success = result.Err == nil
	return result
}

func (e *Engine) cycle(ctx context.Context, logger *slog.Logger, result *CycleResult) error {
	branch := e.cfg.Branch

	e.setState(StatePulling)
	if err := e.git.Pull(ctx, branch); err != nil {
		var conflict *git.ConflictError
		if !errors.As(err, &conflict) {
			return fmt.Errorf("failed to pull changes: %w", err)
		}
		e.setState(StateConflictDetected)
		logger.Warn("merge conflict detected", "branch", branch)
		if rerr := e.resolver.Resolve(ctx, conflict); rerr != nil {
			if aerr := e.git.AbortMerge(ctx); aerr != nil {
				logger.Warn("failed to abort merge", "error", aerr)
			}
			if errors.Is(rerr, conflict) {
				return err
			}
			return rerr
		}
		logger.Info("merge conflict resolved")
	}

	e.setState(StateDiffing)
	changes, err := e.git.DiffWorkingTree(ctx)
	if err != nil {
		return fmt.Errorf("failed to analyze changes: %w", err)
	}
	result.Changes = changes

	if len(changes) == 0 {
		logger.Info("no local changes")
		return nil
	}
	logger.Info("local changes found", "count", len(changes))

	if !e.cfg.AutoCommitEnabled() {
		for _, c := range changes {
			logger.Info("uncommitted change", "type", action(c.Type), "path", c.Path)
		}
		logger.Info("auto commit disabled, leaving changes uncommitted")
		return nil
	}

	e.setState(StateCommitting)
	if err := e.git.StageAndCommit(ctx, changedPaths(changes), CommitMessage(changes)); err != nil {
		return fmt.Errorf("failed to commit changes: %w", err)
	}
	result.Committed = true
	metrics.RecordCommit(len(changes))
	logger.Info("committed changes", "files", len(changes))

	e.setState(StatePushing)
	if err := e.push(ctx, logger, result); err != nil {
		return err
	}
	result.Pushed = true
	logger.Info("pushed changes", "branch", branch, "attempts", result.PushAttempts)
	return nil
}

// push pushes the branch, retrying with exponential backoff until the
// budget is spent. Cancelling ctx stops the retries.
func (e *Engine) push(ctx context.Context, logger *slog.Logger, result *CycleResult) error {
	budget := newRetryBudget(e.cfg.Retries(), e.backoffUnit)

	for {
		result.PushAttempts++
		err := e.git.Push(ctx, e.cfg.Branch)
		if err == nil {
			return nil
		}

		delay, ok := budget.next()
		if !ok {
			return &RetryExhaustedError{Attempts: result.PushAttempts, Err: err}
		}

		e.setState(StatePushRetry)
		metrics.RecordPushRetry()
		logger.Warn("push failed, retrying",
			"attempt", result.PushAttempts,
			"remaining", budget.remaining,
			"delay", delay,
			"error", err)

		if serr := e.sleep(ctx, delay); serr != nil {
			return &RetryExhaustedError{Attempts: result.PushAttempts, Err: errors.Join(err, serr)}
		}
		e.setState(StatePushing)
	}
}

func (e *Engine) finish(ctx context.Context, logger *slog.Logger, result CycleResult) {
	if result.Success {
		e.setState(StateIdle)
		label := metrics.ResultSuccess
		if len(result.Changes) == 0 {
			label = metrics.ResultNoChanges
		}
		metrics.RecordCycle(label, result.Duration)
		logger.Info("sync cycle completed", "changes", len(result.Changes), "duration", result.Duration)
		return
	}

	e.setState(StateFailed)
	label := metrics.ResultFailure
	if result.Conflict() {
		label = metrics.ResultConflict
	}
	metrics.RecordCycle(label, result.Duration)
	logger.Error("sync cycle failed",
		"error", result.Err,
		"conflict", result.Conflict(),
		"push_attempts", result.PushAttempts,
		"duration", result.Duration)

	e.notify(ctx, logger, result)
	e.setState(StateIdle)
}

func (e *Engine) notify(ctx context.Context, logger *slog.Logger, result CycleResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("failure notifier panicked", "panic", r)
		}
	}()
	e.notifier.CycleFailed(ctx, result)
}

// Shutdown stops the change detector. It is safe to call more than once.
func (e *Engine) Shutdown() {
	if e.detector != nil {
		e.detector.Stop()
	}
	e.logger.Info("sync engine stopped")
}
