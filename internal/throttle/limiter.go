package throttle

import "time"

// LimiterConfig tunes the queue gate.
type LimiterConfig struct {
	LowRemaining int           // Below this, pace with ShortDelay
	ShortDelay   time.Duration // Delay while the budget is low but positive
	MaxBackoff   time.Duration // Cap on the over-budget delay
}

// DefaultLimiterConfig returns the production defaults.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		LowRemaining: 20,
		ShortDelay:   time.Second,
		MaxBackoff:   5 * time.Minute,
	}
}

// Limiter gates queue draining on the remote error budget.
type Limiter struct {
	cfg    LimiterConfig
	budget *ErrorBudget
}

// NewLimiter creates a limiter reading from budget.
func NewLimiter(cfg LimiterConfig, budget *ErrorBudget) *Limiter {
	return &Limiter{cfg: cfg, budget: budget}
}

// Allow reports whether the last observed budget has errors to spare.
func (l *Limiter) Allow() bool {
	return l.budget.Load().Remaining > 0
}

// Backoff returns how long the queue worker should wait before trying again.
// Over budget, the wait grows with how far over the remote reports us.
func (l *Limiter) Backoff() time.Duration {
	b := l.budget.Load()

	switch {
	case b.Remaining <= 0:
		reset := b.Reset
		if reset <= 0 {
			reset = time.Second
		}
		over := -b.Remaining
		if over < 1 {
			over = 1
		}
		d := reset * time.Duration(over)
		if l.cfg.MaxBackoff > 0 && (d > l.cfg.MaxBackoff || d/time.Duration(over) != reset) {
			d = l.cfg.MaxBackoff
		}
		return d
	case b.Remaining < l.cfg.LowRemaining:
		return l.cfg.ShortDelay
	default:
		return 0
	}
}
