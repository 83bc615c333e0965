package watch

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

// DebounceWindow is the minimum spacing between two accepted events for one path
const DebounceWindow = time.Second

// DefaultIgnorePatterns covers build artifacts, VCS internals, editor swap
// files and dependency directories. User patterns are added to these.
var DefaultIgnorePatterns = []string{
	"*.pyc",
	"*.pyo",
	"*.pyd",
	"*.so",
	"*.dylib",
	"*.dll",
	"__pycache__",
	".git",
	".hg",
	".svn",
	".idea",
	".vscode",
	"*.swp",
	"*.swo",
	"node_modules",
	"venv",
	".env",
}

type pattern struct {
	raw string
	g   glob.Glob
}

// PatternSet is an ordered list of glob patterns. A path matches when any
// pattern matches the full path, a single path segment, or a trailing run of
// segments (so "docs/*.md" matches "/repo/docs/a.md").
type PatternSet struct {
	patterns []pattern
}

// NewPatternSet compiles patterns with '/' as the separator
func NewPatternSet(patterns ...[]string) (*PatternSet, error) {
	ps := &PatternSet{}
	seen := make(map[string]bool)
	for _, list := range patterns {
		for _, raw := range list {
			if raw == "" || seen[raw] {
				continue
			}
			g, err := glob.Compile(raw, '/')
			if err != nil {
				return nil, fmt.Errorf("invalid pattern %q: %w", raw, err)
			}
			seen[raw] = true
			ps.patterns = append(ps.patterns, pattern{raw: raw, g: g})
		}
	}
	return ps, nil
}

// Patterns returns the source patterns in order
func (ps *PatternSet) Patterns() []string {
	out := make([]string, len(ps.patterns))
	for i, p := range ps.patterns {
		out[i] = p.raw
	}
	return out
}

// Len returns the number of patterns
func (ps *PatternSet) Len() int {
	return len(ps.patterns)
}

// Match reports whether path matches any pattern
func (ps *PatternSet) Match(path string) bool {
	if len(ps.patterns) == 0 {
		return false
	}

	slashed := filepath.ToSlash(path)
	segments := strings.Split(strings.Trim(slashed, "/"), "/")

	for _, p := range ps.patterns {
		if p.g.Match(slashed) {
			return true
		}
		for i := range segments {
			if p.g.Match(segments[i]) {
				return true
			}
			if i > 0 && p.g.Match(strings.Join(segments[i:], "/")) {
				return true
			}
		}
	}
	return false
}

// NewIgnoreRules returns the defaults unioned with user patterns
func NewIgnoreRules(user []string) (*PatternSet, error) {
	return NewPatternSet(DefaultIgnorePatterns, user)
}

// Decision is the outcome of filtering one event
type Decision int

const (
	Accepted Decision = iota
	Ignored
	Hidden
	Unwatched
	Debounced
)

func (d Decision) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case Ignored:
		return "ignored"
	case Hidden:
		return "hidden"
	case Unwatched:
		return "unwatched"
	case Debounced:
		return "debounced"
	default:
		return "unknown"
	}
}

// Filter decides which events are significant. It owns the debounce table,
// which maps a path to its last accepted time and is never pruned.
type Filter struct {
	ignore *PatternSet
	watch  *PatternSet
	clock  Clock
	window time.Duration

	mu           sync.Mutex
	lastAccepted map[string]time.Time
}

// NewFilter creates a filter. A nil or empty watch set accepts every path
// that survives the ignore rules.
func NewFilter(ignore, watch *PatternSet, clock Clock) *Filter {
	if ignore == nil {
		ignore = &PatternSet{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Filter{
		ignore:       ignore,
		watch:        watch,
		clock:        clock,
		window:       DebounceWindow,
		lastAccepted: make(map[string]time.Time),
	}
}

// Ignored reports whether path is excluded by the ignore rules alone
func (f *Filter) Ignored(path string) bool {
	return f.ignore.Match(path)
}

// Evaluate applies the rules in order and records the time of an accepted event
func (f *Filter) Evaluate(ev Event) Decision {
	if f.ignore.Match(ev.Path) {
		return Ignored
	}

	base := filepath.Base(ev.Path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return Hidden
	}

	if f.watch != nil && f.watch.Len() > 0 && !f.watch.Match(ev.Path) {
		return Unwatched
	}

	now := f.clock.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	if last, ok := f.lastAccepted[ev.Path]; ok && now.Sub(last) < f.window {
		return Debounced
	}
	f.lastAccepted[ev.Path] = now
	return Accepted
}

// ShouldProcess reports whether ev is significant
func (f *Filter) ShouldProcess(ev Event) bool {
	return f.Evaluate(ev) == Accepted
}

// Tracked returns the number of paths in the debounce table
func (f *Filter) Tracked() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lastAccepted)
}
