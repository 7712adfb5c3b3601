package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGate struct {
	allow   atomic.Bool
	backoff time.Duration
	checks  atomic.Int32
}

func (g *fakeGate) Allow() bool {
	g.checks.Add(1)
	return g.allow.Load()
}

func (g *fakeGate) Backoff() time.Duration { return g.backoff }

func startWorker(t *testing.T, q *Queue, gate Gate) *Worker {
	t.Helper()
	w := NewWorker(WorkerConfig{IdlePoll: 10 * time.Millisecond, MinBackoff: 5 * time.Millisecond}, q, gate, nil)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = w.Stop(ctx)
	})
	return w
}

func TestWorker_ContinuesAfterFailure(t *testing.T) {
	q := NewQueue(Handlers{}, nil, nil, nil, 0)
	var ran atomic.Int32
	q.Enqueue("fails", func(context.Context) (Result, error) {
		ran.Add(1)
		return Result{}, errors.New("nope")
	}, P0)
	q.Enqueue("ok", func(context.Context) (Result, error) {
		ran.Add(1)
		return Result{}, nil
	}, P1)

	startWorker(t, q, nil)
	assert.Eventually(t, func() bool { return ran.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, q.Len())
}

func TestWorker_WakesOnEnqueue(t *testing.T) {
	q := NewQueue(Handlers{}, nil, nil, nil, 0)
	w := NewWorker(WorkerConfig{IdlePoll: time.Hour}, q, nil, nil)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	done := make(chan struct{})
	time.Sleep(10 * time.Millisecond)
	q.Enqueue("late", func(context.Context) (Result, error) {
		close(done)
		return Result{}, nil
	}, P2)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not wake on enqueue")
	}
}

func TestWorker_HonorsGate(t *testing.T) {
	q := NewQueue(Handlers{}, nil, nil, nil, 0)
	gate := &fakeGate{}
	var ran atomic.Bool
	q.Enqueue("gated", func(context.Context) (Result, error) {
		ran.Store(true)
		return Result{}, nil
	}, P0)

	startWorker(t, q, gate)
	assert.Eventually(t, func() bool { return gate.checks.Load() >= 2 }, time.Second, 5*time.Millisecond)
	assert.False(t, ran.Load())
	assert.Equal(t, 1, q.Len())

	gate.allow.Store(true)
	assert.Eventually(t, ran.Load, time.Second, 5*time.Millisecond)
}

func TestWorker_StopWaitsForJob(t *testing.T) {
	q := NewQueue(Handlers{}, nil, nil, nil, 0)
	started := make(chan struct{})
	var finished atomic.Bool
	q.Enqueue("slow", func(ctx context.Context) (Result, error) {
		close(started)
		<-ctx.Done()
		finished.Store(true)
		return Result{}, ctx.Err()
	}, P0)

	w := NewWorker(DefaultWorkerConfig(), q, nil, nil)
	require.NoError(t, w.Start(context.Background()))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))
	assert.True(t, finished.Load())
}
