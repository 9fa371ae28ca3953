package supervisor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/loykin/svcdeck/internal/history"
)

// DefaultEventQueue bounds the history events waiting for delivery.
const DefaultEventQueue = 256

// eventQueue delivers history events on one goroutine in the order they were
// recorded, so a slow sink never holds up a supervisor operation. When the
// queue is full new events are dropped.
type eventQueue struct {
	sink history.Sink

	mu     sync.RWMutex
	closed bool
	ch     chan history.Event
	done   chan struct{}
}

func newEventQueue(sink history.Sink, size int) *eventQueue {
	q := &eventQueue{sink: sink, ch: make(chan history.Event, size), done: make(chan struct{})}
	go q.run()
	return q
}

func (q *eventQueue) run() {
	defer close(q.done)
	for e := range q.ch {
		if err := q.sink.Send(context.Background(), e); err != nil {
			slog.Warn("history event not delivered", "service", e.Service, "event", e.Type, "error", err)
		}
	}
}

// push enqueues e without blocking. It reports false when e was dropped.
func (q *eventQueue) push(e history.Event) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- e:
		return true
	default:
		slog.Warn("history queue full, event dropped", "service", e.Service, "event", e.Type)
		return false
	}
}

// close stops accepting events and waits until the queued ones are delivered
// or ctx ends.
func (q *eventQueue) close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
