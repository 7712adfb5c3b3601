package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rickgao/eve-market/internal/config"
	"github.com/rickgao/eve-market/internal/model"
)

// History loads the most recent run per job name and keeps the schedule
// overrides made at runtime.
type History interface {
	LastJobRuns(ctx context.Context) (map[string]time.Time, error)
	JobSettings(ctx context.Context) (map[string]model.JobSetting, error)
	SaveJobSettings(ctx context.Context, settings []model.JobSetting) error
}

// ErrInvalidSetting marks a setting rejected by validation.
var ErrInvalidSetting = errors.New("invalid job setting")

// SettingError names the job whose setting was rejected.
type SettingError struct {
	Job string
	Err error
}

func (e *SettingError) Error() string { return fmt.Sprintf("job %s: %v", e.Job, e.Err) }

func (e *SettingError) Unwrap() error { return e.Err }

// Setting is the runtime schedule of one job kind.
type Setting struct {
	Enabled         bool   `json:"enabled"`
	IntervalMinutes int    `json:"interval_minutes"`
	Cron            string `json:"cron,omitempty"`
	Priority        string `json:"priority"`
}

func (s Setting) schedule() (cron.Schedule, error) {
	if s.Cron != "" {
		sched, err := cron.ParseStandard(s.Cron)
		if err != nil {
			return nil, fmt.Errorf("parse cron %q: %w", s.Cron, err)
		}
		return sched, nil
	}
	if s.IntervalMinutes < 1 {
		return nil, fmt.Errorf("interval_minutes must be >= 1, got %d", s.IntervalMinutes)
	}
	return cron.Every(time.Duration(s.IntervalMinutes) * time.Minute), nil
}

// SettingsFromConfig converts the scheduler config section.
func SettingsFromConfig(jobs map[string]config.JobConfig) (map[Kind]Setting, error) {
	out := make(map[Kind]Setting, len(jobs))
	for name, jc := range jobs {
		k, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		prio := jc.Priority
		if prio == "" {
			prio = P2.String()
		}
		out[k] = Setting{
			Enabled:         jc.IsEnabled(),
			IntervalMinutes: jc.IntervalMinutes,
			Cron:            jc.Cron,
			Priority:        prio,
		}
	}
	return out, nil
}

type entry struct {
	setting  Setting
	schedule cron.Schedule
	priority Priority
}

// Scheduler enqueues each enabled job when it comes due. A job is due when
// it has never run or its schedule's next activation after the last run has
// passed. A job already waiting in the queue is not enqueued again.
//
// Settings changed through Update or UpdateAll are saved to the history
// store and replace the configured ones on the next Start.
type Scheduler struct {
	queue   *Queue
	history History
	poll    time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	entries map[Kind]entry
	lastRun map[Kind]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler validates settings and creates a scheduler.
func NewScheduler(queue *Queue, history History, settings map[Kind]Setting, poll time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if poll <= 0 {
		poll = time.Second
	}
	s := &Scheduler{
		queue:   queue,
		history: history,
		poll:    poll,
		logger:  logger,
		now:     time.Now,
		entries: make(map[Kind]entry, len(settings)),
		lastRun: make(map[Kind]time.Time),
	}
	for k, set := range settings {
		e, err := newEntry(set)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", k, err)
		}
		s.entries[k] = e
	}
	return s, nil
}

// Validate checks the priority and, for enabled jobs, the schedule.
func (s Setting) Validate() error {
	_, err := newEntry(s)
	return err
}

func newEntry(set Setting) (entry, error) {
	if set.Priority == "" {
		set.Priority = P2.String()
	}
	prio, err := ParsePriority(set.Priority)
	if err != nil {
		return entry{}, err
	}
	e := entry{setting: set, priority: prio}
	if !set.Enabled {
		return e, nil
	}
	e.schedule, err = set.schedule()
	if err != nil {
		return entry{}, err
	}
	return e, nil
}

// Settings returns the current settings keyed by job name.
func (s *Scheduler) Settings() map[string]Setting {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Setting, len(s.entries))
	for k, e := range s.entries {
		out[k.String()] = e.setting
	}
	return out
}

// Update replaces the setting for one job.
func (s *Scheduler) Update(ctx context.Context, name string, set Setting) error {
	return s.UpdateAll(ctx, map[string]Setting{name: set})
}

// UpdateAll validates every setting, saves them, then applies them. Nothing
// changes if any setting is rejected or the save fails.
func (s *Scheduler) UpdateAll(ctx context.Context, settings map[string]Setting) error {
	names := make([]string, 0, len(settings))
	for name := range settings {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make(map[Kind]entry, len(settings))
	for _, name := range names {
		k, err := ParseKind(name)
		if err != nil {
			return &SettingError{Job: name, Err: err}
		}
		e, err := newEntry(settings[name])
		if err != nil {
			return &SettingError{Job: name, Err: fmt.Errorf("%w: %w", ErrInvalidSetting, err)}
		}
		entries[k] = e
	}

	if s.history != nil {
		now := s.now().UTC()
		rows := make([]model.JobSetting, 0, len(entries))
		for _, k := range Kinds() {
			if e, ok := entries[k]; ok {
				rows = append(rows, model.JobSetting{
					Name:            k.String(),
					Enabled:         e.setting.Enabled,
					IntervalMinutes: e.setting.IntervalMinutes,
					Cron:            e.setting.Cron,
					Priority:        e.setting.Priority,
					Updated:         now,
				})
			}
		}
		if err := s.history.SaveJobSettings(ctx, rows); err != nil {
			return fmt.Errorf("save job settings: %w", err)
		}
	}

	s.mu.Lock()
	maps.Copy(s.entries, entries)
	s.mu.Unlock()

	for k, e := range entries {
		s.logger.Info("job schedule updated", "job", k.String(), "enabled", e.setting.Enabled,
			"interval_minutes", e.setting.IntervalMinutes, "cron", e.setting.Cron, "priority", e.setting.Priority)
	}
	return nil
}

// LastRuns returns a copy of the known last-run times.
func (s *Scheduler) LastRuns() map[Kind]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.lastRun)
}

// Start loads the last runs and begins polling.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.load(ctx); err != nil {
		return err
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	s.logger.Info("job scheduler started", "poll", s.poll, "jobs", len(s.entries))
	return nil
}

// Stop halts polling.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("job scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) load(ctx context.Context) error {
	if s.history == nil {
		return nil
	}
	last, err := s.history.LastJobRuns(ctx)
	if err != nil {
		return fmt.Errorf("load last job runs: %w", err)
	}
	saved, err := s.history.JobSettings(ctx)
	if err != nil {
		return fmt.Errorf("load job settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, ts := range last {
		k, err := ParseKind(name)
		if err != nil {
			// scheduler_tick and retired names
			continue
		}
		if prev, ok := s.lastRun[k]; !ok || ts.After(prev) {
			s.lastRun[k] = ts
		}
	}
	for name, row := range saved {
		k, err := ParseKind(name)
		if err != nil {
			continue
		}
		e, err := newEntry(Setting{
			Enabled:         row.Enabled,
			IntervalMinutes: row.IntervalMinutes,
			Cron:            row.Cron,
			Priority:        row.Priority,
		})
		if err != nil {
			s.logger.Warn("ignoring saved job setting", "job", name, "error", err)
			continue
		}
		s.entries[k] = e
	}
	return nil
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	s.checkDue()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkDue()
		}
	}
}

// checkDue enqueues every due job and returns the kinds enqueued.
func (s *Scheduler) checkDue() []Kind {
	now := s.now()
	var enqueued []Kind

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range Kinds() {
		e, ok := s.entries[k]
		if !ok || !e.setting.Enabled || e.schedule == nil {
			continue
		}
		if last, ok := s.lastRun[k]; ok && e.schedule.Next(last).After(now) {
			continue
		}
		if s.queue.HasPending(k.String()) {
			continue
		}
		runID, err := s.queue.EnqueueKind(k, e.priority)
		if err != nil {
			if !errors.Is(err, ErrUnknownJob) {
				s.logger.Error("failed to enqueue scheduled job", "job", k.String(), "error", err)
			}
			continue
		}
		s.lastRun[k] = now
		enqueued = append(enqueued, k)
		s.logger.Debug("scheduled job enqueued", "job", k.String(), "run_id", runID)
	}
	return enqueued
}
