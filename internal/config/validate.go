package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
)

var (
	validDrivers    = []string{"postgres", "memory"}
	validModes      = []string{"gated", "profit_only"}
	validLevels     = []string{"debug", "info", "warn", "error"}
	validFormats    = []string{"text", "json"}
	validPriorities = []string{"P0", "P1", "P2", "P3"}
	tierOrder       = []string{"A", "B", "C", "D"}
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.ESI.BaseURL == "" {
		return errors.New("esi.base_url is required")
	}
	if c.ESI.MaxRetries < 0 {
		return errors.New("esi.max_retries must be >= 0")
	}
	if c.ESI.RateLimit < 0 {
		return errors.New("esi.rate_limit must be >= 0")
	}

	if c.Market.RegionID <= 0 {
		return errors.New("market.region_id must be > 0")
	}
	if c.Market.StationID <= 0 {
		return errors.New("market.station_id must be > 0")
	}

	if !slices.Contains(validDrivers, c.Database.Driver) {
		return fmt.Errorf("database.driver must be one of %s, got %q", strings.Join(validDrivers, ", "), c.Database.Driver)
	}
	if c.Database.Driver == "postgres" {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	}

	if err := c.Scheduler.validate(); err != nil {
		return err
	}

	if c.Tick.MaxBatch < 1 {
		return errors.New("tick.max_batch must be >= 1")
	}
	if c.Tick.Workers < 1 {
		return errors.New("tick.workers must be >= 1")
	}
	if c.Tick.TaskTimeout < 0 {
		return errors.New("tick.task_timeout must be >= 0")
	}

	if err := c.Tiers.validate(); err != nil {
		return err
	}

	if c.Throttle.Baseline < 1 {
		return errors.New("throttle.baseline must be >= 1")
	}
	if c.Throttle.LowWater > c.Throttle.HighWater {
		return fmt.Errorf("throttle.low_water (%d) cannot exceed high_water (%d)", c.Throttle.LowWater, c.Throttle.HighWater)
	}

	if c.Trends.Concurrency < 1 {
		return errors.New("trends.concurrency must be >= 1")
	}

	if !slices.Contains(validModes, c.Recommender.Mode) {
		return fmt.Errorf("recommender.mode must be one of %s, got %q", strings.Join(validModes, ", "), c.Recommender.Mode)
	}
	if c.Recommender.Limit < 1 {
		return errors.New("recommender.limit must be >= 1")
	}

	if c.Snipes.Window < 2 {
		return errors.New("snipes.window must be >= 2")
	}
	if c.Snipes.Epsilon < 0 || c.Snipes.Delta < 0 || c.Snipes.ZThreshold < 0 {
		return errors.New("snipes.epsilon, snipes.delta and snipes.z_threshold must be >= 0")
	}
	if c.Snipes.Limit < 1 {
		return errors.New("snipes.limit must be >= 1")
	}

	if c.Events.BufferSize < 1 {
		return errors.New("events.buffer_size must be >= 1")
	}
	if c.Events.SendQueue < 1 {
		return errors.New("events.send_queue must be >= 1")
	}
	if c.Events.Hydrate > c.Events.History {
		return fmt.Errorf("events.hydrate (%d) cannot exceed history (%d)", c.Events.Hydrate, c.Events.History)
	}

	if !slices.Contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of %s, got %q", strings.Join(validLevels, ", "), c.Logging.Level)
	}
	if !slices.Contains(validFormats, c.Logging.Format) {
		return fmt.Errorf("logging.format must be one of %s, got %q", strings.Join(validFormats, ", "), c.Logging.Format)
	}

	return nil
}

func (s *SchedulerConfig) validate() error {
	names := make([]string, 0, len(s.Jobs))
	for name := range s.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, ok := jobDefaults[name]; !ok {
			return fmt.Errorf("scheduler.jobs.%s is not a known job", name)
		}
		if err := s.Jobs[name].validate("scheduler.jobs." + name); err != nil {
			return err
		}
	}
	return nil
}

func (j JobConfig) validate(prefix string) error {
	if j.IntervalMinutes < 1 {
		return fmt.Errorf("%s.interval_minutes must be >= 1", prefix)
	}
	if j.Cron != "" {
		if _, err := cron.ParseStandard(j.Cron); err != nil {
			return fmt.Errorf("%s.cron: %w", prefix, err)
		}
	}
	if !slices.Contains(validPriorities, j.Priority) {
		return fmt.Errorf("%s.priority must be one of %s, got %q", prefix, strings.Join(validPriorities, ", "), j.Priority)
	}
	return nil
}

// validate requires every tier to have an interval, non-increasing breakpoints
// from A to C, and non-decreasing intervals from A to D.
func (t *TiersConfig) validate() error {
	for i, tier := range tierOrder {
		minutes, ok := t.IntervalsMinutes[tier]
		if !ok || minutes < 1 {
			return fmt.Errorf("tiers.intervals_minutes.%s must be >= 1", tier)
		}
		if i > 0 && minutes < t.IntervalsMinutes[tierOrder[i-1]] {
			return fmt.Errorf("tiers.intervals_minutes.%s (%d) must be >= %s (%d)",
				tier, minutes, tierOrder[i-1], t.IntervalsMinutes[tierOrder[i-1]])
		}
	}
	for i, tier := range tierOrder[:3] {
		vol, ok := t.Breakpoints[tier]
		if !ok || vol < 0 {
			return fmt.Errorf("tiers.breakpoints.%s must be >= 0", tier)
		}
		if i > 0 && vol > t.Breakpoints[tierOrder[i-1]] {
			return fmt.Errorf("tiers.breakpoints.%s (%g) must be <= %s (%g)",
				tier, vol, tierOrder[i-1], t.Breakpoints[tierOrder[i-1]])
		}
	}
	if !slices.Contains(tierOrder, t.Default) {
		return fmt.Errorf("tiers.default must be one of %s, got %q", strings.Join(tierOrder, ", "), t.Default)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
