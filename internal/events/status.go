package events

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// StatusConfig bounds the rolling status snapshot.
type StatusConfig struct {
	LastRuns int // Finished runs retained, newest first
	Logs     int // job_log events retained
}

// DefaultStatusConfig returns the production defaults.
func DefaultStatusConfig() StatusConfig {
	return StatusConfig{LastRuns: 20, Logs: 50}
}

// Inflight is a job currently executing.
type Inflight struct {
	Job      string    `json:"job"`
	RunID    string    `json:"runId"`
	Progress int       `json:"progress"`
	Detail   string    `json:"detail"`
	Since    time.Time `json:"since"`
}

// LastRun is a finished job as seen by the status snapshot.
type LastRun struct {
	Job   string    `json:"job"`
	RunID string    `json:"runId"`
	OK    bool      `json:"ok"`
	MS    int64     `json:"ms"`
	Items int       `json:"items"`
	Error string    `json:"error,omitempty"`
	TS    time.Time `json:"ts"`
}

// ESIState is the last reported error budget.
type ESIState struct {
	Remain int       `json:"remain"`
	Reset  int       `json:"reset"`
	At     time.Time `json:"at"`
}

// Counts holds rolling counters.
type Counts struct {
	Jobs10m       int     `json:"jobs_10m"`
	Refreshed10m  int     `json:"refreshed_10m"`
	Refreshed60m  int     `json:"refreshed_60m"`
	MedianAgeS    float64 `json:"median_age_s"`
	EventsDropped int64   `json:"events_dropped"`
	SendsDropped  int64   `json:"sends_dropped"` // Per-subscriber, queue full
	Subscribers   int     `json:"subscribers"`
}

// StatusSnapshot is the polling view of current activity.
type StatusSnapshot struct {
	Inflight []Inflight     `json:"inflight"`
	LastRuns []LastRun      `json:"last_runs"`
	ESI      *ESIState      `json:"esi"`
	Queue    map[string]int `json:"queue"`
	Pending  []PendingJob   `json:"pending"`
	Logs     []JobLog       `json:"logs"`
	Counts   Counts         `json:"counts"`
}

// Status folds events into a StatusSnapshot.
type Status struct {
	cfg StatusConfig
	now func() time.Time

	mu       sync.Mutex
	inflight []Inflight
	lastRuns []LastRun
	finished []time.Time // job_finished times within the last 10 minutes
	esi      *ESIState
	queue    map[string]int
	pending  []PendingJob
	logs     []JobLog
	tick     TickFinish
}

// NewStatus creates an empty status.
func NewStatus(cfg StatusConfig) *Status {
	if cfg.LastRuns < 1 {
		cfg.LastRuns = 1
	}
	if cfg.Logs < 1 {
		cfg.Logs = 1
	}
	return &Status{
		cfg:   cfg,
		now:   time.Now,
		queue: map[string]int{},
	}
}

// Apply folds one event into the status.
func (s *Status) Apply(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch p := e.Data.(type) {
	case JobStarted:
		s.inflight = append(s.inflight, Inflight{Job: p.Job, RunID: p.RunID, Since: e.Time})

	case JobProgress:
		for i := range s.inflight {
			if s.inflight[i].RunID == p.RunID {
				s.inflight[i].Progress = p.Progress
				s.inflight[i].Detail = p.Detail
			}
		}

	case JobLog:
		s.logs = append(s.logs, p)
		if over := len(s.logs) - s.cfg.Logs; over > 0 {
			s.logs = slices.Clone(s.logs[over:])
		}

	case JobFinished:
		job := p.Job
		s.inflight = slices.DeleteFunc(s.inflight, func(in Inflight) bool {
			if in.RunID == p.RunID {
				if job == "" {
					job = in.Job
				}
				return true
			}
			return false
		})
		run := LastRun{Job: job, RunID: p.RunID, OK: p.OK, MS: p.MS, Items: p.Items, Error: p.Error, TS: e.Time}
		s.lastRuns = append([]LastRun{run}, s.lastRuns...)
		if len(s.lastRuns) > s.cfg.LastRuns {
			s.lastRuns = s.lastRuns[:s.cfg.LastRuns]
		}
		s.finished = append(s.finished, e.Time)
		s.pruneFinished(s.now())

	case Queue:
		s.queue = maps.Clone(p.Depth)

	case Jobs:
		s.pending = slices.Clone(p.Pending)

	case ESI:
		s.esi = &ESIState{Remain: p.Remain, Reset: p.Reset, At: e.Time}

	case TickFinish:
		s.tick = p
	}
}

func (s *Status) pruneFinished(now time.Time) {
	cutoff := now.Add(-10 * time.Minute)
	i := 0
	for i < len(s.finished) && s.finished[i].Before(cutoff) {
		i++
	}
	s.finished = s.finished[i:]
}

// Snapshot returns a copy of the current status.
func (s *Status) Snapshot() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneFinished(s.now())

	snap := StatusSnapshot{
		Inflight: slices.Clone(s.inflight),
		LastRuns: slices.Clone(s.lastRuns),
		Queue:    maps.Clone(s.queue),
		Pending:  slices.Clone(s.pending),
		Logs:     slices.Clone(s.logs),
		Counts: Counts{
			Jobs10m:      len(s.finished),
			Refreshed10m: s.tick.Refreshed10m,
			Refreshed60m: s.tick.Refreshed60m,
			MedianAgeS:   s.tick.MedianAgeS,
		},
	}
	if s.esi != nil {
		esi := *s.esi
		snap.ESI = &esi
	}
	if snap.Inflight == nil {
		snap.Inflight = []Inflight{}
	}
	if snap.LastRuns == nil {
		snap.LastRuns = []LastRun{}
	}
	if snap.Pending == nil {
		snap.Pending = []PendingJob{}
	}
	if snap.Logs == nil {
		snap.Logs = []JobLog{}
	}
	return snap
}
