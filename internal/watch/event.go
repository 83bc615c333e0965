// Package watch detects significant filesystem changes under a work tree.
//
// Raw events from an EventSource pass through a Filter (ignore rules, editor
// temp files, per-path debouncing). Accepted events are published on the
// detector's Changes channel and looked up in a dependency Graph so that
// files depending on the changed one can be reported to an observer.
package watch

import (
	"fmt"
	"time"
)

// Kind is the type of filesystem change
type Kind int

const (
	Created Kind = iota + 1
	Modified
	Deleted
	Renamed
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is a single filesystem change. Path is absolute.
type Event struct {
	Path string
	Kind Kind
	Time time.Time
}

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

// Now returns time.Now()
func (SystemClock) Now() time.Time {
	return time.Now()
}
