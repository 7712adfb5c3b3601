package throttle

import "sync"

// ControllerConfig holds the additive controller's tuning.
type ControllerConfig struct {
	Baseline  int // Starting worker count
	LowWater  int // Below this remaining budget, shed one worker per call
	HighWater int // Above this remaining budget, add one worker per call
}

// DefaultControllerConfig returns the production defaults.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Baseline:  6,
		LowWater:  5,
		HighWater: 80,
	}
}

// Controller sizes the tick worker pool from the remote error budget.
// It moves the worker count by at most one per call.
type Controller struct {
	cfg    ControllerConfig
	budget *ErrorBudget

	mu      sync.Mutex
	current int
}

// NewController creates a controller starting at cfg.Baseline workers.
func NewController(cfg ControllerConfig, budget *ErrorBudget) *Controller {
	if cfg.Baseline < 1 {
		cfg.Baseline = 1
	}
	return &Controller{
		cfg:     cfg,
		budget:  budget,
		current: cfg.Baseline,
	}
}

// SelectWorkers returns the worker count to use for the next tick, in [1, target].
func (c *Controller) SelectWorkers(target int) int {
	if target < 1 {
		target = 1
	}
	remaining := c.budget.Load().Remaining

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case remaining < c.cfg.LowWater:
		if c.current > 1 {
			c.current--
		}
	case remaining > c.cfg.HighWater && c.current < target:
		c.current++
	}

	return min(target, c.current)
}

// Current returns the controller's internal worker count.
func (c *Controller) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
