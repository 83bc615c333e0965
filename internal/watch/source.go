package watch

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventSource delivers raw filesystem events from a background goroutine.
// Both channels are closed after Close returns.
type EventSource interface {
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// FSNotifySource watches a directory tree with fsnotify. fsnotify watches are
// not recursive, so every directory is registered individually and newly
// created directories are added as they appear. Directories matched by skip
// (e.g. .git) are never registered.
//
// Operations map as follows:
//   - fsnotify.Create → Created
//   - fsnotify.Write  → Modified
//   - fsnotify.Remove → Deleted
//   - fsnotify.Rename → Renamed (the new name arrives as a separate Create)
//   - fsnotify.Chmod  → dropped
type FSNotifySource struct {
	root    string
	skip    func(path string) bool
	clock   Clock
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	events chan Event
	errors chan error
	done   chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewFSNotifySource starts watching root recursively
func NewFSNotifySource(root string, skip func(path string) bool, clock Clock, logger *slog.Logger) (*FSNotifySource, error) {
	if skip == nil {
		skip = func(string) bool { return false }
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root is not a directory: %s", root)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	s := &FSNotifySource{
		root:    root,
		skip:    skip,
		clock:   clock,
		logger:  logger,
		watcher: w,
		events:  make(chan Event, 256),
		errors:  make(chan error, 16),
		done:    make(chan struct{}),
	}

	if err := s.addTree(root); err != nil {
		_ = w.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.loop()

	return s, nil
}

// Events returns the event stream
func (s *FSNotifySource) Events() <-chan Event {
	return s.events
}

// Errors returns non-fatal watcher errors
func (s *FSNotifySource) Errors() <-chan error {
	return s.errors
}

// Close stops the watcher. It is safe to call more than once.
func (s *FSNotifySource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.watcher.Close()
		s.wg.Wait()
		close(s.events)
		close(s.errors)
	})
	return err
}

// addTree registers dir and every non-skipped directory below it
func (s *FSNotifySource) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// directories can vanish between the event and the walk
			if path != dir && os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != s.root && s.skip(path) {
			return filepath.SkipDir
		}
		if err := s.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (s *FSNotifySource) loop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case fe, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handle(fe)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.sendError(err)
		}
	}
}

func (s *FSNotifySource) handle(fe fsnotify.Event) {
	var kind Kind
	switch {
	case fe.Has(fsnotify.Create):
		kind = Created
		if info, err := os.Stat(fe.Name); err == nil && info.IsDir() {
			if s.skip(fe.Name) {
				return
			}
			if err := s.addTree(fe.Name); err != nil {
				s.sendError(err)
			}
		}
	case fe.Has(fsnotify.Write):
		kind = Modified
	case fe.Has(fsnotify.Remove):
		kind = Deleted
	case fe.Has(fsnotify.Rename):
		kind = Renamed
	default:
		return
	}

	select {
	case s.events <- Event{Path: fe.Name, Kind: kind, Time: s.clock.Now()}:
	case <-s.done:
	}
}

func (s *FSNotifySource) sendError(err error) {
	select {
	case s.errors <- err:
	default:
		s.logger.Warn("dropping watcher error", "error", err)
	}
}
