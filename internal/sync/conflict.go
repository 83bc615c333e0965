package sync

import (
	"context"
	"fmt"

	"github.com/schaermu/gitsyncd/internal/config"
	"github.com/schaermu/gitsyncd/internal/git"
)

// ConflictResolver handles a pull that stopped on a merge conflict. A nil
// return means the work tree is clean and the cycle may continue; any error
// fails the cycle and the engine aborts the merge.
type ConflictResolver interface {
	Resolve(ctx context.Context, conflict *git.ConflictError) error
}

// NoResolution leaves conflicts unresolved and surfaces them as cycle failures
type NoResolution struct{}

// Resolve returns conflict unchanged
func (NoResolution) Resolve(_ context.Context, conflict *git.ConflictError) error {
	return conflict
}

// NewConflictResolver returns the resolver for strategy
func NewConflictResolver(strategy config.ConflictStrategy) (ConflictResolver, error) {
	switch strategy {
	case config.ConflictNone, "":
		return NoResolution{}, nil
	default:
		return nil, fmt.Errorf("unknown conflict strategy: %s", strategy)
	}
}
