package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBusStopped is returned by Subscribe after the bus has stopped.
var ErrBusStopped = errors.New("event bus stopped")

// BusConfig configures the event bus.
type BusConfig struct {
	BufferSize int           // Pending events before the oldest is dropped
	History    int           // Events retained for hydration
	Hydrate    int           // Events replayed to a new subscriber
	Heartbeat  time.Duration // Heartbeat period, 0 disables
	SendQueue  int           // Per-subscriber backlog (default: 64)
	Status     StatusConfig
}

// DefaultBusConfig returns the production defaults.
func DefaultBusConfig() BusConfig {
	return BusConfig{
		BufferSize: 1024,
		History:    200,
		Hydrate:    40,
		Heartbeat:  5 * time.Second,
		SendQueue:  DefaultSendQueue,
		Status:     DefaultStatusConfig(),
	}
}

type subRequest struct {
	sub  Subscriber
	done chan error
}

// Bus is the process event sink.
//
// Emit updates the status snapshot and any observers synchronously, then
// queues the event on a bounded channel. A single goroutine drains the
// channel into the history ring and hands each message to the hub, which
// writes to every subscriber from its own goroutine. When the channel is
// full the oldest queued event is dropped.
type Bus struct {
	cfg    BusConfig
	logger *slog.Logger

	status    *Status
	hub       *Hub
	history   *Ring[Event]
	observers []Sink

	ch      chan Event
	subs    chan subRequest
	dropped atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	wg      sync.WaitGroup
}

// NewBus creates a bus. Observers receive every event synchronously from Emit.
func NewBus(cfg BusConfig, logger *slog.Logger, observers ...Sink) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}
	return &Bus{
		cfg:       cfg,
		logger:    logger,
		status:    NewStatus(cfg.Status),
		hub:       NewHub(cfg.SendQueue, logger),
		history:   NewRing[Event](cfg.History),
		observers: observers,
		ch:        make(chan Event, cfg.BufferSize),
		subs:      make(chan subRequest),
		stopped:   make(chan struct{}),
	}
}

// Emit publishes an event. It never blocks.
func (b *Bus) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if e.Type == "" && e.Data != nil {
		e.Type = e.Data.EventType()
	}

	b.status.Apply(e)
	for _, o := range b.observers {
		o.Emit(e)
	}

	for {
		select {
		case b.ch <- e:
			return
		default:
		}
		// Full: drop the oldest queued event and retry.
		select {
		case <-b.ch:
			b.dropped.Add(1)
		default:
		}
	}
}

// Start launches the delivery and heartbeat goroutines.
func (b *Bus) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	b.wg.Add(1)
	go b.run()

	if b.cfg.Heartbeat > 0 {
		b.wg.Add(1)
		go b.heartbeat()
	}

	b.logger.Info("event bus started",
		"buffer", b.cfg.BufferSize,
		"history", b.cfg.History,
		"heartbeat", b.cfg.Heartbeat,
		"send_queue", b.cfg.SendQueue,
	)
	return nil
}

// Stop shuts the bus down. Queued events not yet delivered are discarded.
func (b *Bus) Stop(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		b.hub.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("event bus stopped", "dropped", b.dropped.Load())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe hydrates sub with recent history and then adds it to the live set.
// Hydration and registration happen on the delivery goroutine so no event is
// skipped or repeated in between. Start must have been called.
func (b *Bus) Subscribe(ctx context.Context, sub Subscriber) error {
	req := subRequest{sub: sub, done: make(chan error, 1)}

	select {
	case b.subs <- req:
	case <-b.stopped:
		return ErrBusStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe removes sub from the live set.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.hub.Remove(sub)
}

// Snapshot returns the status snapshot with bus counters filled in.
func (b *Bus) Snapshot() StatusSnapshot {
	snap := b.status.Snapshot()
	snap.Counts.EventsDropped = b.dropped.Load()
	snap.Counts.SendsDropped = b.hub.Dropped()
	snap.Counts.Subscribers = b.hub.Len()
	return snap
}

// History returns up to n of the most recently delivered events.
func (b *Bus) History(n int) []Event {
	return b.history.Last(n)
}

// Dropped returns how many events were dropped on a full channel.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribers returns the number of live subscribers.
func (b *Bus) Subscribers() int {
	return b.hub.Len()
}

// run is the single delivery loop.
func (b *Bus) run() {
	defer b.wg.Done()
	defer close(b.stopped)

	for {
		select {
		case <-b.ctx.Done():
			return
		case e := <-b.ch:
			b.deliver(e)
		case req := <-b.subs:
			b.attach(req.sub)
			req.done <- nil
		}
	}
}

func (b *Bus) deliver(e Event) {
	b.history.Push(e)

	msg, err := json.Marshal(e)
	if err != nil {
		b.logger.Error("marshal event", "type", e.Type, "error", err)
		return
	}
	b.hub.Broadcast(msg)
}

// attach queues the hydration backlog ahead of any later broadcast.
func (b *Bus) attach(sub Subscriber) {
	recent := b.history.Last(b.cfg.Hydrate)
	backlog := make([][]byte, 0, len(recent))
	for _, e := range recent {
		msg, err := json.Marshal(e)
		if err != nil {
			continue
		}
		backlog = append(backlog, msg)
	}
	b.hub.Add(b.ctx, sub, backlog...)
	b.logger.Info("websocket connected", "subscribers", b.hub.Len())
}

func (b *Bus) heartbeat() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case now := <-ticker.C:
			b.Emit(New(Heartbeat{Now: now.UTC()}))
		}
	}
}
