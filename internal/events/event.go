// Package events carries lifecycle events from jobs, ticks and the ESI client
// to the status snapshot, live subscribers and metrics.
//
// Every event serialises to one flat JSON object with a "type" discriminator
// and a "ts" timestamp next to its payload fields. Consumers must ignore
// fields they do not know.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rickgao/eve-market/internal/model"
)

// Type discriminates event payloads.
type Type string

const (
	TypeJobStarted        Type = "job_started"
	TypeJobProgress       Type = "job_progress"
	TypeJobLog            Type = "job_log"
	TypeJobFinished       Type = "job_finished"
	TypeQueue             Type = "queue"
	TypeJobs              Type = "jobs"
	TypeTick              Type = "tick"
	TypeESI               Type = "esi"
	TypeHeartbeat         Type = "heartbeat"
	TypeValuationsUpdated Type = "valuations_updated"
)

// Tick phases.
const (
	PhaseStart    = "start"
	PhaseProgress = "progress"
	PhaseFinish   = "finish"
)

// TickJob is the job name carried by every tick event.
const TickJob = "scheduler_tick"

// Payload is implemented by every event body.
type Payload interface {
	EventType() Type
}

// Event is one emitted lifecycle event.
type Event struct {
	Type Type
	Time time.Time
	Data Payload
}

// New wraps a payload in an Event stamped with the current time.
func New(p Payload) Event {
	return Event{Type: p.EventType(), Time: time.Now().UTC(), Data: p}
}

// MarshalJSON flattens the payload next to "type" and "ts".
func (e Event) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if e.Data != nil {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", e.Type, err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("flatten %s payload: %w", e.Type, err)
		}
	}

	typ, _ := json.Marshal(e.Type)
	ts, _ := json.Marshal(e.Time)
	fields["type"] = typ
	fields["ts"] = ts
	return json.Marshal(fields)
}

// -----------------------------------------------------------------------------
// Job lifecycle
// -----------------------------------------------------------------------------

type JobStarted struct {
	Job      string         `json:"job"`
	RunID    string         `json:"runId"`
	Priority string         `json:"priority,omitempty"`
	Meta     map[string]any `json:"meta"`
}

type JobProgress struct {
	RunID    string `json:"runId"`
	Progress int    `json:"progress"` // 0-100
	Detail   string `json:"detail"`
}

type JobLog struct {
	RunID   string `json:"runId"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

type JobFinished struct {
	RunID string `json:"runId"`
	Job   string `json:"job"`
	OK    bool   `json:"ok"`
	Items int    `json:"itemsWritten"`
	MS    int64  `json:"ms"`
	Error string `json:"error,omitempty"`
}

func (JobStarted) EventType() Type  { return TypeJobStarted }
func (JobProgress) EventType() Type { return TypeJobProgress }
func (JobLog) EventType() Type      { return TypeJobLog }
func (JobFinished) EventType() Type { return TypeJobFinished }

// -----------------------------------------------------------------------------
// Queue state
// -----------------------------------------------------------------------------

// Queue reports queue depth by priority class name (P0..P3).
type Queue struct {
	Depth map[string]int `json:"depth"`
}

// PendingJob is one queued job as seen by observers.
type PendingJob struct {
	Job      string    `json:"job"`
	RunID    string    `json:"runId"`
	Priority string    `json:"priority"`
	Enqueued time.Time `json:"enqueued"`
}

// Jobs lists pending jobs in execution order.
type Jobs struct {
	Pending []PendingJob `json:"pending"`
}

func (Queue) EventType() Type { return TypeQueue }
func (Jobs) EventType() Type  { return TypeJobs }

// -----------------------------------------------------------------------------
// Scheduler tick
// -----------------------------------------------------------------------------

type TickStart struct {
	Job      string             `json:"job"`
	Phase    string             `json:"phase"`
	RunID    string             `json:"runId"`
	Selected int                `json:"selected"`
	Tiers    map[model.Tier]int `json:"tiers"`
	Workers  int                `json:"workers"`
}

type TickProgress struct {
	Job     string `json:"job"`
	Phase   string `json:"phase"`
	RunID   string `json:"runId"`
	Done    int    `json:"done"`
	Total   int    `json:"total"`
	Percent int    `json:"percent"`
	TypeID  int64  `json:"type_id"`
	Errors  int    `json:"errors"`
}

type TickFinish struct {
	Job                string  `json:"job"`
	Phase              string  `json:"phase"`
	RunID              string  `json:"runId"`
	OK                 bool    `json:"ok"`
	Selected           int     `json:"selected"`
	Workers            int     `json:"workers"`
	ItemsWritten       int     `json:"items_written"`
	Succeeded          int     `json:"succeeded"`
	UniqueTypesTouched int     `json:"unique_types_touched"`
	Errors             int     `json:"errors"`
	DurationMS         int64   `json:"duration_ms"`
	Refreshed10m       int     `json:"refreshed_10m"`
	Refreshed60m       int     `json:"refreshed_60m"`
	MedianAgeS         float64 `json:"median_age_s"`
	Error              string  `json:"error,omitempty"`
}

func (TickStart) EventType() Type    { return TypeTick }
func (TickProgress) EventType() Type { return TypeTick }
func (TickFinish) EventType() Type   { return TypeTick }

// -----------------------------------------------------------------------------
// Resources
// -----------------------------------------------------------------------------

// ESI reports the remote error budget.
type ESI struct {
	Remain int `json:"remain"`
	Reset  int `json:"reset"` // seconds
}

type Heartbeat struct {
	Now time.Time `json:"now"`
}

type ValuationsUpdated struct {
	Count int `json:"count"`
}

func (ESI) EventType() Type               { return TypeESI }
func (Heartbeat) EventType() Type         { return TypeHeartbeat }
func (ValuationsUpdated) EventType() Type { return TypeValuationsUpdated }

// Sink receives events. Emit must not block and must not panic.
type Sink interface {
	Emit(e Event)
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(Event) {}
