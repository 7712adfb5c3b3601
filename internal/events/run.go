package events

import (
	"fmt"
	"sync"
	"time"
)

// Run reports progress and log lines for one job execution.
// Log lines are flood-limited to Burst per one-second window; the excess is
// collapsed into a single summary line when the window rolls over or the
// run is closed.
type Run struct {
	sink  Sink
	job   string
	runID string
	burst int
	now   func() time.Time

	mu          sync.Mutex
	windowStart time.Time
	count       int
	lastLevel   string
}

// NewRun creates a reporter for one run. burst < 1 defaults to 5.
func NewRun(sink Sink, job, runID string, burst int) *Run {
	if sink == nil {
		sink = Discard
	}
	if burst < 1 {
		burst = 5
	}
	return &Run{sink: sink, job: job, runID: runID, burst: burst, now: time.Now}
}

// Job returns the job name.
func (r *Run) Job() string { return r.job }

// ID returns the run id.
func (r *Run) ID() string { return r.runID }

// Sink returns the sink events are emitted to.
func (r *Run) Sink() Sink { return r.sink }

// Progress emits a job_progress event. pct is clamped to [0, 100].
func (r *Run) Progress(pct int, detail string) {
	pct = max(0, min(100, pct))
	r.sink.Emit(New(JobProgress{RunID: r.runID, Progress: pct, Detail: detail}))
}

// Logf emits a formatted job_log event subject to flood suppression.
func (r *Run) Logf(level, format string, args ...any) {
	r.Log(level, fmt.Sprintf(format, args...))
}

// Log emits a job_log event subject to flood suppression.
func (r *Run) Log(level, message string) {
	r.mu.Lock()
	now := r.now()
	var summary *JobLog
	if r.windowStart.IsZero() || now.Sub(r.windowStart) > time.Second {
		summary = r.summaryLocked()
		r.windowStart = now
		r.count = 0
	}
	r.count++
	r.lastLevel = level
	emit := r.count <= r.burst
	r.mu.Unlock()

	if summary != nil {
		r.sink.Emit(New(*summary))
	}
	if emit {
		r.sink.Emit(New(JobLog{RunID: r.runID, Level: level, Message: message}))
	}
}

// Close flushes any pending suppression summary.
func (r *Run) Close() {
	r.mu.Lock()
	summary := r.summaryLocked()
	r.count = 0
	r.mu.Unlock()

	if summary != nil {
		r.sink.Emit(New(*summary))
	}
}

func (r *Run) summaryLocked() *JobLog {
	suppressed := r.count - r.burst
	if suppressed <= 0 {
		return nil
	}
	return &JobLog{
		RunID:   r.runID,
		Level:   r.lastLevel,
		Message: fmt.Sprintf("%d messages suppressed", suppressed),
	}
}
