package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
)

// ErrStopped is returned by Start once the detector has been stopped
var ErrStopped = errors.New("detector stopped")

// AffectedFunc receives a changed path and its direct dependents
type AffectedFunc func(changed string, affected []string)

// Analyzer discovers the files that path depends on. Returned sources are
// added to the graph as source → path edges.
type Analyzer interface {
	Dependencies(path string) ([]string, error)
}

// AnalyzerFunc adapts a function to Analyzer
type AnalyzerFunc func(path string) ([]string, error)

// Dependencies calls f
func (f AnalyzerFunc) Dependencies(path string) ([]string, error) {
	return f(path)
}

// Observer is told about every filtering decision and dependency notification.
// The metrics package provides one.
type Observer interface {
	EventFiltered(d Decision)
	AffectedNotified(n int)
	GraphSize(edges int)
}

type nopObserver struct{}

func (nopObserver) EventFiltered(Decision) {}
func (nopObserver) AffectedNotified(int)   {}
func (nopObserver) GraphSize(int)          {}

// SourceFactory opens the event source when the detector starts
type SourceFactory func(root string, skip func(string) bool) (EventSource, error)

// Option configures a Detector
type Option func(*Detector)

// WithClock sets the clock used for debouncing
func WithClock(c Clock) Option {
	return func(d *Detector) { d.clock = c }
}

// WithWatchPatterns restricts accepted events to paths matching patterns
func WithWatchPatterns(patterns []string) Option {
	return func(d *Detector) { d.watchPatterns = patterns }
}

// WithSourceFactory replaces the fsnotify source
func WithSourceFactory(f SourceFactory) Option {
	return func(d *Detector) { d.newSource = f }
}

// WithAnalyzer sets the dependency analyzer run for created and modified files
func WithAnalyzer(a Analyzer) Option {
	return func(d *Detector) { d.analyzer = a }
}

// WithObserver sets the decision observer
func WithObserver(o Observer) Option {
	return func(d *Detector) { d.observer = o }
}

// WithBuffer sets the capacity of the Changes channel
func WithBuffer(n int) Option {
	return func(d *Detector) { d.buffer = n }
}

// Detector bridges an EventSource to the Filter and Graph. Events are
// handed from the source goroutine to a single processing goroutine over a
// channel; the callback and the Changes channel are driven from there.
type Detector struct {
	root          string
	logger        *slog.Logger
	clock         Clock
	ignore        []string
	watchPatterns []string
	newSource     SourceFactory
	analyzer      Analyzer
	observer      Observer
	buffer        int

	filter  *Filter
	graph   *Graph
	changes chan Event

	mu         sync.Mutex // guards the fields below
	onAffected AffectedFunc
	source     EventSource
	started    bool
	stopped    bool
	stopCh     chan struct{}
	done       chan struct{}
}

// NewDetector creates a detector for root. ignore is unioned with
// DefaultIgnorePatterns.
func NewDetector(root string, ignore []string, logger *slog.Logger, opts ...Option) (*Detector, error) {
	if logger == nil {
		logger = slog.Default()
	}

	d := &Detector{
		root:     root,
		logger:   logger,
		clock:    SystemClock{},
		ignore:   ignore,
		observer: nopObserver{},
		buffer:   256,
		graph:    NewGraph(),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.newSource == nil {
		d.newSource = func(root string, skip func(string) bool) (EventSource, error) {
			return NewFSNotifySource(root, skip, d.clock, d.logger)
		}
	}

	ignoreSet, err := NewIgnoreRules(d.ignore)
	if err != nil {
		return nil, fmt.Errorf("failed to compile ignore patterns: %w", err)
	}
	watchSet, err := NewPatternSet(d.watchPatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to compile watch patterns: %w", err)
	}

	d.filter = NewFilter(ignoreSet, watchSet, d.clock)
	d.changes = make(chan Event, d.buffer)
	return d, nil
}

// Root returns the watched directory
func (d *Detector) Root() string {
	return d.root
}

// Graph returns the dependency graph
func (d *Detector) Graph() *Graph {
	return d.graph
}

// Filter returns the event filter
func (d *Detector) Filter() *Filter {
	return d.filter
}

// Changes returns accepted events. The channel is closed by Stop. Events are
// dropped, not queued, when the reader falls behind.
func (d *Detector) Changes() <-chan Event {
	return d.changes
}

// OnAffected registers the callback for dependency notifications,
// replacing any previous one
func (d *Detector) OnAffected(fn AffectedFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onAffected = fn
}

// AddDependency records that dependent depends on source. Relative paths
// are resolved against the watched root.
func (d *Detector) AddDependency(source, dependent string) {
	src, dep := d.abs(source), d.abs(dependent)
	if d.graph.AddDependency(src, dep) {
		d.logger.Debug("added dependency", "source", src, "dependent", dep)
		d.observer.GraphSize(d.graph.Len())
	}
}

// DependentsOf returns the direct dependents of path
func (d *Detector) DependentsOf(path string) []string {
	return d.graph.DependentsOf(d.abs(path))
}

// Start opens the event source and begins processing in the background.
func (d *Detector) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrStopped
	}
	if d.started {
		return nil
	}

	src, err := d.newSource(d.root, d.filter.Ignored)
	if err != nil {
		return fmt.Errorf("failed to start watching %s: %w", d.root, err)
	}
	d.source = src
	d.started = true

	go d.loop(src)

	d.logger.Info("started monitoring changes", "root", d.root)
	return nil
}

// Stop ends monitoring. It may be called repeatedly, and before Start. When
// it returns no further callbacks will run. It must not be called from the
// affected-files callback.
func (d *Detector) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	started := d.started
	src := d.source
	d.mu.Unlock()

	close(d.stopCh)

	if !started {
		close(d.changes)
		return
	}

	<-d.done
	if err := src.Close(); err != nil {
		d.logger.Warn("failed to close event source", "error", err)
	}
	d.logger.Info("stopped file monitoring", "root", d.root)
}

func (d *Detector) loop(src EventSource) {
	defer close(d.done)
	defer close(d.changes)

	events := src.Events()
	errs := src.Errors()

	for {
		select {
		case <-d.stopCh:
			return
		case ev, ok := <-events:
			if !ok {
				d.logger.Warn("event source closed", "root", d.root)
				return
			}
			if err := d.handle(ev); err != nil {
				d.logger.Error("error handling file change", "path", ev.Path, "error", err)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.logger.Warn("watcher error", "error", err)
		}
	}
}

// handle processes one event; failures are returned rather than stopping the loop
func (d *Detector) handle(ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	decision := d.filter.Evaluate(ev)
	d.observer.EventFiltered(decision)
	if decision != Accepted {
		return nil
	}

	d.logger.Debug("detected change", "path", ev.Path, "kind", ev.Kind.String())

	select {
	case d.changes <- ev:
	default:
		d.logger.Debug("dropping change for slow reader", "path", ev.Path)
	}

	var analyzeErr error
	if d.analyzer != nil && (ev.Kind == Created || ev.Kind == Modified) {
		analyzeErr = d.analyze(ev.Path)
	}

	affected := d.graph.DependentsOf(ev.Path)
	if len(affected) > 0 {
		d.logger.Info("change affects dependents", "path", ev.Path, "affected", affected)
		d.notify(ev.Path, affected)
	}

	return analyzeErr
}

func (d *Detector) analyze(path string) error {
	sources, err := d.analyzer.Dependencies(path)
	if err != nil {
		return fmt.Errorf("dependency analysis failed: %w", err)
	}
	for _, src := range sources {
		d.AddDependency(src, path)
	}
	return nil
}

func (d *Detector) notify(changed string, affected []string) {
	d.mu.Lock()
	fn := d.onAffected
	d.mu.Unlock()

	d.observer.AffectedNotified(len(affected))
	if fn != nil {
		fn(changed, affected)
	}
}

func (d *Detector) abs(path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(d.root, path)
}
