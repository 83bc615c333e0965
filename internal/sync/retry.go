package sync

import (
	"context"
	"fmt"
	"time"
)

// backoffBase is the exponent base for delays between push attempts
const backoffBase = 2

// RetryExhaustedError is returned when every permitted push attempt failed
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("push failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// retryBudget tracks the retries left for one push step
type retryBudget struct {
	initial   int
	remaining int
	unit      time.Duration
}

func newRetryBudget(retries int, unit time.Duration) *retryBudget {
	if retries < 0 {
		retries = 0
	}
	return &retryBudget{initial: retries, remaining: retries, unit: unit}
}

// next consumes one retry and returns the delay to wait before it. ok is
// false once the budget is exhausted.
func (b *retryBudget) next() (delay time.Duration, ok bool) {
	if b.remaining == 0 {
		return 0, false
	}
	b.remaining--
	exp := b.initial - b.remaining
	delay = b.unit
	for i := 0; i < exp; i++ {
		delay *= backoffBase
	}
	return delay, true
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
