package throttle

import (
	"sync/atomic"
	"time"
)

// Default error budget before any response has been observed.
const (
	DefaultRemaining = 100
	DefaultReset     = 60 * time.Second
)

// Budget is one observation of the remote error budget.
type Budget struct {
	Remaining  int           // Errors left before the remote starts refusing calls
	Reset      time.Duration // Time until the window resets
	ObservedAt time.Time     // Zero for the initial value
}

// ErrorBudget holds the most recently observed Budget.
// One writer (the fetch layer) and many readers; last write wins.
type ErrorBudget struct {
	cur atomic.Pointer[Budget]
}

// NewErrorBudget returns a cell initialised to the default budget.
func NewErrorBudget() *ErrorBudget {
	b := &ErrorBudget{}
	b.cur.Store(&Budget{Remaining: DefaultRemaining, Reset: DefaultReset})
	return b
}

// Observe records a new budget reading.
func (b *ErrorBudget) Observe(remaining int, reset time.Duration) {
	b.cur.Store(&Budget{Remaining: remaining, Reset: reset, ObservedAt: time.Now()})
}

// Load returns the latest reading.
func (b *ErrorBudget) Load() Budget {
	if p := b.cur.Load(); p != nil {
		return *p
	}
	return Budget{Remaining: DefaultRemaining, Reset: DefaultReset}
}
