package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/eve-market/internal/events"
	"github.com/rickgao/eve-market/internal/store"
)

func noop(context.Context) (Result, error) { return Result{}, nil }

func recordingFunc(mu *sync.Mutex, order *[]string, name string) Func {
	return func(context.Context) (Result, error) {
		mu.Lock()
		*order = append(*order, name)
		mu.Unlock()
		return Result{Items: 1}, nil
	}
}

func TestQueue_PriorityOrder(t *testing.T) {
	q := NewQueue(Handlers{}, nil, nil, nil, 0)
	var mu sync.Mutex
	var order []string

	q.Enqueue("a", recordingFunc(&mu, &order, "a"), P2)
	q.Enqueue("b", recordingFunc(&mu, &order, "b"), P0)
	q.Enqueue("c", recordingFunc(&mu, &order, "c"), P1)

	for {
		ran, err := q.RunNext(context.Background())
		require.NoError(t, err)
		if !ran {
			break
		}
	}
	assert.Equal(t, []string{"b", "c", "a"}, order)
}

func TestQueue_FIFOWithinPriority(t *testing.T) {
	q := NewQueue(Handlers{}, nil, nil, nil, 0)
	var mu sync.Mutex
	var order []string
	for _, name := range []string{"x1", "x2", "x3", "x4"} {
		q.Enqueue(name, recordingFunc(&mu, &order, name), P2)
	}
	for i := 0; i < 4; i++ {
		_, err := q.RunNext(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"x1", "x2", "x3", "x4"}, order)
}

func TestQueue_OutOfRangePriorityIsLowest(t *testing.T) {
	q := NewQueue(Handlers{}, nil, nil, nil, 0)
	q.Enqueue("odd", noop, Priority(9))
	assert.Equal(t, 1, q.Depth()["P3"])
}

func TestQueue_DepthAndPendingEvents(t *testing.T) {
	rec := &events.Recorder{}
	q := NewQueue(Handlers{}, nil, rec, nil, 0)

	q.Enqueue("b", noop, P3)
	q.Enqueue("a", noop, P1)

	depths := rec.OfType(events.TypeQueue)
	require.Len(t, depths, 2)
	last := depths[len(depths)-1].Data.(events.Queue)
	assert.Equal(t, map[string]int{"P0": 0, "P1": 1, "P2": 0, "P3": 1}, last.Depth)

	pend := rec.OfType(events.TypeJobs)
	require.Len(t, pend, 2)
	jobs := pend[len(pend)-1].Data.(events.Jobs).Pending
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Job)
	assert.Equal(t, "P1", jobs[0].Priority)
	assert.Equal(t, "b", jobs[1].Job)

	_, err := q.RunNext(context.Background())
	require.NoError(t, err)
	jobs = rec.OfType(events.TypeJobs)[2].Data.(events.Jobs).Pending
	require.Len(t, jobs, 1)
	assert.Equal(t, "b", jobs[0].Job)
}

func TestQueue_RunRecordsJobRunAndEvents(t *testing.T) {
	mem := store.NewMemory()
	rec := &events.Recorder{}
	q := NewQueue(Handlers{}, mem, rec, nil, 0)

	var seen string
	runID := q.Enqueue("demo", func(ctx context.Context) (Result, error) {
		seen = RunID(ctx)
		RunFrom(ctx).Progress(50, "half")
		return Result{Items: 7, Details: map[string]any{"note": "x"}}, nil
	}, P2)

	ran, err := q.RunNext(context.Background())
	require.NoError(t, err)
	require.True(t, ran)
	assert.Equal(t, runID, seen)

	started := rec.OfType(events.TypeJobStarted)
	require.Len(t, started, 1)
	assert.Equal(t, runID, started[0].Data.(events.JobStarted).RunID)

	prog := rec.OfType(events.TypeJobProgress)
	require.Len(t, prog, 1)
	assert.Equal(t, 50, prog[0].Data.(events.JobProgress).Progress)

	fin := rec.OfType(events.TypeJobFinished)
	require.Len(t, fin, 1)
	f := fin[0].Data.(events.JobFinished)
	assert.True(t, f.OK)
	assert.Equal(t, 7, f.Items)
	assert.Equal(t, "demo", f.Job)

	runs := mem.JobRuns()
	require.Len(t, runs, 1)
	assert.Equal(t, "demo", runs[0].Name)
	assert.True(t, runs[0].OK)
	assert.Equal(t, runID, runs[0].Details["run_id"])
	assert.Equal(t, 7, runs[0].Details["items_written"])
	assert.Equal(t, "x", runs[0].Details["note"])
}

func TestQueue_ErrorPropagatesAfterBookkeeping(t *testing.T) {
	mem := store.NewMemory()
	rec := &events.Recorder{}
	q := NewQueue(Handlers{}, mem, rec, nil, 0)

	boom := errors.New("boom")
	q.Enqueue("bad", func(context.Context) (Result, error) { return Result{}, boom }, P2)

	ran, err := q.RunNext(context.Background())
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)

	fin := rec.OfType(events.TypeJobFinished)
	require.Len(t, fin, 1)
	f := fin[0].Data.(events.JobFinished)
	assert.False(t, f.OK)
	assert.Equal(t, "boom", f.Error)

	runs := mem.JobRuns()
	require.Len(t, runs, 1)
	assert.False(t, runs[0].OK)
	assert.Equal(t, "boom", runs[0].Details["error"])
}

func TestQueue_PanicBecomesError(t *testing.T) {
	mem := store.NewMemory()
	q := NewQueue(Handlers{}, mem, nil, nil, 0)
	q.Enqueue("panicky", func(context.Context) (Result, error) { panic("kaboom") }, P2)

	ran, err := q.RunNext(context.Background())
	assert.True(t, ran)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	require.Len(t, mem.JobRuns(), 1)
	assert.False(t, mem.JobRuns()[0].OK)
}

func TestQueue_RunRecordedAfterCancel(t *testing.T) {
	mem := store.NewMemory()
	q := NewQueue(Handlers{}, mem, nil, nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	q.Enqueue("cancelled", func(ctx context.Context) (Result, error) {
		cancel()
		return Result{}, ctx.Err()
	}, P2)

	_, err := q.RunNext(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, mem.JobRuns(), 1)
}

func TestQueue_StatusSeesLastRuns(t *testing.T) {
	status := events.NewStatus(events.DefaultStatusConfig())
	sink := sinkFunc(status.Apply)
	q := NewQueue(Handlers{}, nil, sink, nil, 0)

	q.Enqueue("one", noop, P2)
	q.Enqueue("two", noop, P2)
	assert.Len(t, status.Snapshot().Pending, 2)

	for i := 0; i < 2; i++ {
		_, err := q.RunNext(context.Background())
		require.NoError(t, err)
	}
	snap := status.Snapshot()
	require.Len(t, snap.LastRuns, 2)
	assert.Equal(t, "two", snap.LastRuns[0].Job)
	assert.Empty(t, snap.Inflight)
	assert.Empty(t, snap.Pending)
}

func TestQueue_EnqueueName(t *testing.T) {
	called := false
	q := NewQueue(Handlers{RecommenderScan: func(context.Context) (Result, error) {
		called = true
		return Result{}, nil
	}}, nil, nil, nil, 0)

	_, err := q.EnqueueName("nope", P0)
	assert.ErrorIs(t, err, ErrUnknownJob)
	assert.Equal(t, 0, q.Len())

	_, err = q.EnqueueName("recommendations", P0)
	require.NoError(t, err)
	assert.True(t, q.HasPending("recommender_scan"))

	_, err = q.RunNext(context.Background())
	require.NoError(t, err)
	assert.True(t, called)

	_, err = q.EnqueueName("refresh_trends", P0)
	assert.Error(t, err, "unbound handler must not be queued")
	assert.Equal(t, 0, q.Len())
}

func TestParseKindAndPriority(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	for _, p := range Priorities {
		got, err := ParsePriority(p.String())
		if err != nil || got != p {
			t.Errorf("ParsePriority(%q) = %v, %v", p.String(), got, err)
		}
	}
	if _, err := ParsePriority("P9"); err == nil {
		t.Error("expected error for P9")
	}
}

type sinkFunc func(events.Event)

func (f sinkFunc) Emit(e events.Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	f(e)
}
