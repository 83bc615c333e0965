package sync

import (
	"context"
)

// Notifier is told about cycles that failed
type Notifier interface {
	CycleFailed(ctx context.Context, result CycleResult)
}

// NopNotifier discards notifications
type NopNotifier struct{}

// CycleFailed does nothing
func (NopNotifier) CycleFailed(context.Context, CycleResult) {}
