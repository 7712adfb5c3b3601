package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Subscriber is a live event consumer such as a WebSocket connection.
type Subscriber interface {
	// Send delivers one serialised event.
	Send(ctx context.Context, msg []byte) error
	// Close releases the subscriber.
	Close() error
}

// DefaultSendQueue is the per-subscriber backlog when none is configured.
const DefaultSendQueue = 64

// client is one subscriber with its own send queue and writer goroutine.
type client struct {
	sub  Subscriber
	ch   chan []byte
	done chan struct{}
}

// Hub fans serialised events out to subscribers.
//
// Each subscriber has a bounded queue drained by its own goroutine, so a slow
// connection only delays itself. A message that finds a queue full is dropped
// for that subscriber. A subscriber whose Send fails is closed and removed.
type Hub struct {
	logger *slog.Logger
	queue  int

	mu   sync.Mutex
	subs map[Subscriber]*client

	dropped atomic.Int64
	wg      sync.WaitGroup
}

// NewHub creates an empty hub. queue is the per-subscriber backlog.
func NewHub(queue int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if queue < 1 {
		queue = DefaultSendQueue
	}
	return &Hub{
		logger: logger,
		queue:  queue,
		subs:   make(map[Subscriber]*client),
	}
}

// Add registers a subscriber and starts its writer. backlog is queued ahead
// of anything broadcast later. The writer exits when ctx is done, when the
// subscriber is removed, or on the first failed Send.
func (h *Hub) Add(ctx context.Context, sub Subscriber, backlog ...[]byte) {
	c := &client{
		sub:  sub,
		ch:   make(chan []byte, max(h.queue, len(backlog))),
		done: make(chan struct{}),
	}
	for _, msg := range backlog {
		c.ch <- msg
	}

	h.mu.Lock()
	old := h.subs[sub]
	h.subs[sub] = c
	h.mu.Unlock()
	if old != nil {
		close(old.done)
	}

	h.wg.Add(1)
	go h.write(ctx, c)
}

// Remove unregisters a subscriber without closing it.
func (h *Hub) Remove(sub Subscriber) {
	h.mu.Lock()
	c, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if ok {
		close(c.done)
	}
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many per-subscriber messages were dropped on a full
// queue.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Broadcast queues msg for every subscriber without blocking and returns how
// many subscribers missed it because their queue was full.
func (h *Hub) Broadcast(msg []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	missed := 0
	for _, c := range h.subs {
		select {
		case c.ch <- msg:
		default:
			missed++
		}
	}
	if missed > 0 {
		h.dropped.Add(int64(missed))
		h.logger.Warn("websocket queue full, dropping event", "subscribers", missed)
	}
	return missed
}

// Wait blocks until every writer goroutine has exited.
func (h *Hub) Wait() {
	h.wg.Wait()
}

func (h *Hub) write(ctx context.Context, c *client) {
	defer h.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg := <-c.ch:
			if err := c.sub.Send(ctx, msg); err != nil {
				h.logger.Warn("websocket send failed", "error", err)
				h.prune(c)
				return
			}
		}
	}
}

// prune removes c if it is still registered and closes its subscriber.
func (h *Hub) prune(c *client) {
	h.mu.Lock()
	cur, ok := h.subs[c.sub]
	if ok && cur == c {
		delete(h.subs, c.sub)
	}
	h.mu.Unlock()
	if ok && cur == c {
		close(c.done)
	}

	if err := c.sub.Close(); err != nil {
		h.logger.Debug("close dead subscriber", "error", err)
	}
	h.logger.Info("websocket pruned")
}
