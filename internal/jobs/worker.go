package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Gate decides whether the worker may start another job.
type Gate interface {
	Allow() bool
	Backoff() time.Duration
}

type openGate struct{}

func (openGate) Allow() bool            { return true }
func (openGate) Backoff() time.Duration { return 0 }

// Open is a Gate that never blocks.
var Open Gate = openGate{}

// WorkerConfig tunes the worker loop.
type WorkerConfig struct {
	// IdlePoll bounds how long the worker sleeps on an empty queue
	// before re-checking.
	IdlePoll time.Duration
	// MinBackoff is used when the gate refuses but reports no delay.
	MinBackoff time.Duration
}

// DefaultWorkerConfig returns sensible defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		IdlePoll:   time.Second,
		MinBackoff: time.Second,
	}
}

// Worker drains a Queue one job at a time.
type Worker struct {
	cfg    WorkerConfig
	queue  *Queue
	gate   Gate
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a worker. A nil gate never blocks.
func NewWorker(cfg WorkerConfig, queue *Queue, gate Gate, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if gate == nil {
		gate = Open
	}
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = time.Second
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	return &Worker{cfg: cfg, queue: queue, gate: gate, logger: logger}
}

// Start launches the worker loop.
func (w *Worker) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop()
	}()
	w.logger.Info("job worker started")
	return nil
}

// Stop cancels the loop and waits for the running job to return.
func (w *Worker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("job worker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	for {
		if w.ctx.Err() != nil {
			return
		}
		w.step()
	}
}

// step runs at most one job, or sleeps.
func (w *Worker) step() {
	if w.queue.Len() == 0 {
		w.idle()
		return
	}
	if !w.gate.Allow() {
		d := max(w.gate.Backoff(), w.cfg.MinBackoff)
		w.logger.Debug("error budget exhausted, backing off", "backoff", d)
		w.sleep(d)
		return
	}

	_, err := w.queue.RunNext(w.ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Warn("job failed", "error", err)
	}

	// pace while the budget is low
	if d := w.gate.Backoff(); d > 0 {
		w.sleep(d)
	}
}

func (w *Worker) idle() {
	t := time.NewTimer(w.cfg.IdlePoll)
	defer t.Stop()
	select {
	case <-w.ctx.Done():
	case <-w.queue.wake:
	case <-t.C:
	}
}

func (w *Worker) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.ctx.Done():
	case <-t.C:
	}
}
