// Package daemon drives the sync engine: it runs cycles at a fixed interval
// and on request, reports local changes seen by the detector, and serves the
// webhook endpoint alongside.
package daemon

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	gsync "github.com/schaermu/gitsyncd/internal/sync"
	"github.com/schaermu/gitsyncd/internal/watch"
)

// Engine runs sync cycles
type Engine interface {
	RunCycle(ctx context.Context) gsync.CycleResult
	State() gsync.State
}

// ChangeSource publishes local changes and dependency notifications
type ChangeSource interface {
	Changes() <-chan watch.Event
	OnAffected(fn watch.AffectedFunc)
}

// Server is a long-running listener that stops when ctx is cancelled
type Server interface {
	Start(ctx context.Context) error
}

// Option configures a Daemon
type Option func(*Daemon)

// WithChangeSource logs changes and affected dependents reported by src
func WithChangeSource(src ChangeSource) Option {
	return func(d *Daemon) { d.changes = src }
}

// WithServer runs srv for the lifetime of the daemon
func WithServer(srv Server) Option {
	return func(d *Daemon) { d.server = srv }
}

// Daemon schedules sync cycles
type Daemon struct {
	engine   Engine
	interval time.Duration
	logger   *slog.Logger
	changes  ChangeSource
	server   Server

	// holds at most one queued request; further requests while one is
	// pending are coalesced
	trigger chan string
}

// New creates a daemon running a cycle every interval
func New(engine Engine, interval time.Duration, logger *slog.Logger, opts ...Option) *Daemon {
	d := &Daemon{
		engine:   engine,
		interval: interval,
		logger:   logger,
		trigger:  make(chan string, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Trigger requests a cycle as soon as the current one, if any, finishes.
// It never blocks.
func (d *Daemon) Trigger(reason string) {
	select {
	case d.trigger <- reason:
		d.logger.Debug("sync requested", "reason", reason)
	default:
		d.logger.Debug("sync already pending, coalescing request", "reason", reason)
	}
}

// State reports the engine state
func (d *Daemon) State() string {
	return d.engine.State().String()
}

// Run blocks until ctx is cancelled or the server fails. A cycle runs
// immediately, then every interval; failed cycles wait the normal interval.
func (d *Daemon) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.loop(gctx)
		return nil
	})

	if d.changes != nil {
		d.changes.OnAffected(d.logAffected)
		g.Go(func() error {
			d.watchChanges(gctx)
			return nil
		})
	}

	if d.server != nil {
		g.Go(func() error {
			return d.server.Start(gctx)
		})
	}

	return g.Wait()
}

func (d *Daemon) loop(ctx context.Context) {
	d.logger.Info("sync loop started", "interval", d.interval)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.runCycle(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("sync loop stopped")
			return
		case <-ticker.C:
			d.runCycle(ctx, "interval")
		case reason := <-d.trigger:
			d.runCycle(ctx, reason)
			// the next periodic cycle counts from here
			ticker.Reset(d.interval)
		}
	}
}

func (d *Daemon) runCycle(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	d.logger.Debug("running sync cycle", "reason", reason)
	result := d.engine.RunCycle(ctx)
	if !result.Success {
		d.logger.Debug("sync cycle did not complete, will retry at next interval",
			"cycle_id", result.ID,
			"reason", reason)
	}
}

func (d *Daemon) watchChanges(ctx context.Context) {
	events := d.changes.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.logger.Info("local change detected", "path", ev.Path, "kind", ev.Kind.String())
		}
	}
}

func (d *Daemon) logAffected(changed string, affected []string) {
	d.logger.Info("dependents affected by change", "changed", changed, "affected", affected)
}
