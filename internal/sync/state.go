package sync

import (
	"time"

	"github.com/schaermu/gitsyncd/internal/git"
)

// State is the engine's position in the sync cycle
type State int32

const (
	StateIdle State = iota
	StatePulling
	StateDiffing
	StateConflictDetected
	StateCommitting
	StatePushing
	StatePushRetry
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePulling:
		return "pulling"
	case StateDiffing:
		return "diffing"
	case StateConflictDetected:
		return "conflict_detected"
	case StateCommitting:
		return "committing"
	case StatePushing:
		return "pushing"
	case StatePushRetry:
		return "push_retry"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CycleResult describes one pull/diff/commit/push cycle
type CycleResult struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration

	Success   bool
	Changes   []git.FileChange
	Committed bool
	Pushed    bool

	// PushAttempts counts calls to push, including the first
	PushAttempts int
	// Err is nil when Success is true
	Err error
}

// Conflict reports whether the cycle stopped on a merge conflict
func (r CycleResult) Conflict() bool {
	return git.IsConflict(r.Err)
}
