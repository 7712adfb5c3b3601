package jobs

import (
	"cmp"
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/eve-market/internal/events"
	"github.com/rickgao/eve-market/internal/model"
)

// RunRecorder persists one JobRun per execution.
type RunRecorder interface {
	AppendJobRun(ctx context.Context, run model.JobRun) error
}

// Job is one queued execution.
type Job struct {
	Name     string
	Priority Priority
	RunID    string
	Fn       Func

	seq      uint64
	enqueued time.Time
}

// jobHeap orders by (priority, seq) so equal priorities run FIFO.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(*Job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}

// Queue is a thread-safe priority queue of jobs.
type Queue struct {
	handlers Handlers
	recorder RunRecorder
	sink     events.Sink
	logger   *slog.Logger
	logBurst int
	now      func() time.Time

	mu    sync.Mutex
	items jobHeap
	seq   uint64
	wake  chan struct{}
}

// NewQueue creates a queue. recorder and sink may be nil.
func NewQueue(handlers Handlers, recorder RunRecorder, sink events.Sink, logger *slog.Logger, logBurst int) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Queue{
		handlers: handlers,
		recorder: recorder,
		sink:     sink,
		logger:   logger,
		logBurst: logBurst,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}
}

func newRunID() string {
	return "run-" + uuid.NewString()[:8]
}

// Enqueue adds fn under name and returns the assigned run id.
func (q *Queue) Enqueue(name string, fn Func, prio Priority) string {
	if prio < P0 || prio > P3 {
		prio = P3
	}
	job := &Job{Name: name, Priority: prio, RunID: newRunID(), Fn: fn}

	q.mu.Lock()
	q.seq++
	job.seq = q.seq
	job.enqueued = q.now()
	heap.Push(&q.items, job)
	q.publishLocked()
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.logger.Debug("job enqueued", "job", name, "run_id", job.RunID, "priority", prio.String())
	return job.RunID
}

// EnqueueKind enqueues the handler bound to k.
func (q *Queue) EnqueueKind(k Kind, prio Priority) (string, error) {
	fn, err := q.handlers.For(k)
	if err != nil {
		return "", err
	}
	return q.Enqueue(k.String(), fn, prio), nil
}

// EnqueueName resolves name and enqueues its handler. Unknown names fail
// with ErrUnknownJob before anything is queued.
func (q *Queue) EnqueueName(name string, prio Priority) (string, error) {
	k, err := ParseKind(name)
	if err != nil {
		return "", err
	}
	return q.EnqueueKind(k, prio)
}

// Len returns the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Depth returns pending counts keyed P0..P3.
func (q *Queue) Depth() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depthLocked()
}

// Pending lists queued jobs in execution order.
func (q *Queue) Pending() []events.PendingJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingLocked()
}

// HasPending reports whether a job named name is waiting to run.
func (q *Queue) HasPending(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.items {
		if j.Name == name {
			return true
		}
	}
	return false
}

func (q *Queue) depthLocked() map[string]int {
	depth := make(map[string]int, len(Priorities))
	for _, p := range Priorities {
		depth[p.String()] = 0
	}
	for _, j := range q.items {
		depth[j.Priority.String()]++
	}
	return depth
}

func (q *Queue) pendingLocked() []events.PendingJob {
	// heap order is not execution order
	sorted := slices.Clone(q.items)
	slices.SortFunc(sorted, func(a, b *Job) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]events.PendingJob, 0, len(sorted))
	for _, j := range sorted {
		out = append(out, events.PendingJob{
			Job:      j.Name,
			RunID:    j.RunID,
			Priority: j.Priority.String(),
			Enqueued: j.enqueued,
		})
	}
	return out
}

// publishLocked emits queue and jobs events; caller holds q.mu so observers
// see mutations in order.
func (q *Queue) publishLocked() {
	q.sink.Emit(events.New(events.Queue{Depth: q.depthLocked()}))
	q.sink.Emit(events.New(events.Jobs{Pending: q.pendingLocked()}))
}

func (q *Queue) pop() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	job := heap.Pop(&q.items).(*Job)
	q.publishLocked()
	return job
}

// RunNext pops and executes the highest-priority job. It returns false when
// the queue was empty. The job's error, if any, is returned after the
// finish event and JobRun have been recorded.
func (q *Queue) RunNext(ctx context.Context) (ran bool, err error) {
	job := q.pop()
	if job == nil {
		return false, nil
	}

	run := events.NewRun(q.sink, job.Name, job.RunID, q.logBurst)
	start := q.now()
	q.sink.Emit(events.New(events.JobStarted{
		Job:      job.Name,
		RunID:    job.RunID,
		Priority: job.Priority.String(),
		Meta:     map[string]any{},
	}))

	var res Result
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("job panicked", "job", job.Name, "run_id", job.RunID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
			ran = true
		}
		run.Close()
		q.finish(ctx, job, start, res, err)
	}()

	res, err = job.Fn(withRun(ctx, run))
	return true, err
}

func (q *Queue) finish(ctx context.Context, job *Job, start time.Time, res Result, err error) {
	elapsed := q.now().Sub(start)
	fin := events.JobFinished{
		RunID: job.RunID,
		Job:   job.Name,
		OK:    err == nil,
		Items: res.Items,
		MS:    elapsed.Milliseconds(),
	}
	details := map[string]any{
		"run_id":        job.RunID,
		"priority":      job.Priority.String(),
		"items_written": res.Items,
		"ms":            fin.MS,
	}
	for k, v := range res.Details {
		details[k] = v
	}
	if err != nil {
		fin.Error = err.Error()
		details["error"] = err.Error()
	}
	q.sink.Emit(events.New(fin))

	if q.recorder == nil {
		return
	}
	// record even when the worker is shutting down
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if rerr := q.recorder.AppendJobRun(rctx, model.JobRun{
		Name:    job.Name,
		TS:      start,
		OK:      err == nil,
		Details: details,
	}); rerr != nil {
		q.logger.Error("failed to record job run", "job", job.Name, "run_id", job.RunID, "error", rerr)
	}
}
