package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loykin/svcdeck/internal/metrics"
)

const (
	DefaultSendTimeout = 2 * time.Second
	DefaultInterval    = 2 * time.Second
)

// Sink receives push messages. Send must be safe for concurrent use.
type Sink interface {
	ID() string
	Send(ctx context.Context, msg Message) error
}

// Options wires the hub to the data it pushes.
type Options struct {
	// Status returns the current status of every service.
	Status func(ctx context.Context) any
	// Stats returns host resource figures.
	Stats func(ctx context.Context) any
	// Interval is re-read before every periodic push.
	Interval    func() time.Duration
	SendTimeout time.Duration
}

// Hub tracks connected observers and fans messages out to them.
type Hub struct {
	mu    sync.RWMutex
	sinks map[string]Sink
	opts  Options
}

func NewHub(o Options) *Hub {
	if o.SendTimeout <= 0 {
		o.SendTimeout = DefaultSendTimeout
	}
	if o.Interval == nil {
		o.Interval = func() time.Duration { return DefaultInterval }
	}
	return &Hub{sinks: make(map[string]Sink), opts: o}
}

// Subscribe registers s, replacing any sink with the same ID.
func (h *Hub) Subscribe(s Sink) {
	h.mu.Lock()
	h.sinks[s.ID()] = s
	n := len(h.sinks)
	h.mu.Unlock()
	metrics.SetObservers(n)
	slog.Debug("observer subscribed", "observer", s.ID(), "count", n)
}

// Unsubscribe removes the sink with the given ID. Unknown IDs are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	_, ok := h.sinks[id]
	delete(h.sinks, id)
	n := len(h.sinks)
	h.mu.Unlock()
	if ok {
		metrics.SetObservers(n)
		slog.Debug("observer unsubscribed", "observer", id, "count", n)
	}
}

// Interval is the current wait between periodic pushes.
func (h *Hub) Interval() time.Duration { return h.opts.Interval() }

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sinks)
}

// IDs returns the subscribed sink IDs, sorted.
func (h *Hub) IDs() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.sinks))
	for id := range h.sinks {
		out = append(out, id)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Publish delivers msg to every sink. A sink whose send fails or times out
// is removed; the others still receive the message. It returns the number
// of successful deliveries.
func (h *Hub) Publish(ctx context.Context, msg Message) int {
	h.mu.RLock()
	targets := make([]Sink, 0, len(h.sinks))
	for _, s := range h.sinks {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
		failed    []string
	)
	for _, s := range targets {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			if err := h.send(ctx, s, msg); err != nil {
				slog.Warn("dropping observer", "observer", s.ID(), "type", string(msg.Type), "error", err)
				mu.Lock()
				failed = append(failed, s.ID())
				mu.Unlock()
				return
			}
			mu.Lock()
			delivered++
			mu.Unlock()
		}(s)
	}
	wg.Wait()
	for _, id := range failed {
		h.Unsubscribe(id)
	}
	return delivered
}

// Snapshot pushes a status_update followed by system_stats to every sink.
func (h *Hub) Snapshot(ctx context.Context) {
	if h.Len() == 0 {
		return
	}
	for _, m := range h.snapshot(ctx) {
		h.Publish(ctx, m)
	}
}

// Serve runs the per-observer loop: subscribe, push a snapshot immediately and
// then once per interval until ctx ends or a send fails.
func (h *Hub) Serve(ctx context.Context, s Sink) error {
	h.Subscribe(s)
	defer h.Unsubscribe(s.ID())

	for {
		for _, m := range h.snapshot(ctx) {
			if err := h.send(ctx, s, m); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("observer %s: %w", s.ID(), err)
			}
		}
		t := time.NewTimer(h.Interval())
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (h *Hub) snapshot(ctx context.Context) []Message {
	out := make([]Message, 0, 2)
	if h.opts.Status != nil {
		out = append(out, StatusUpdate(h.opts.Status(ctx)))
	}
	if h.opts.Stats != nil {
		out = append(out, SystemStats(h.opts.Stats(ctx)))
	}
	return out
}

var errSendTimeout = errors.New("send timed out")

func (h *Hub) send(ctx context.Context, s Sink, msg Message) error {
	sctx, cancel := context.WithTimeout(ctx, h.opts.SendTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Send(sctx, msg) }()
	select {
	case err := <-done:
		return err
	case <-sctx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errSendTimeout
	}
}
