package history

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart   EventType = "start"
	EventStop    EventType = "stop"
	EventRestart EventType = "restart"
	EventError   EventType = "error"
	EventAdd     EventType = "add"
	EventDelete  EventType = "delete"
)

// Event represents a service lifecycle event exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Service    string    `json:"service"`
	Kind       string    `json:"kind"`
	Success    bool      `json:"success"`
	Count      int       `json:"count"`
	Message    string    `json:"message,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Fanout delivers every event to all of its sinks. A failing sink is logged
// and does not stop delivery to the rest.
type Fanout struct {
	sinks   []Sink
	timeout time.Duration
}

// NewFanout returns a Fanout over sinks; nil entries are skipped.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{timeout: 5 * time.Second}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Len returns the number of sinks.
func (f *Fanout) Len() int {
	if f == nil {
		return 0
	}
	return len(f.sinks)
}

// Send delivers e to every sink and joins the failures.
func (f *Fanout) Send(ctx context.Context, e Event) error {
	if f == nil || len(f.sinks) == 0 {
		return nil
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	var errs []error
	for _, s := range f.sinks {
		sctx, cancel := context.WithTimeout(ctx, f.timeout)
		if err := s.Send(sctx, e); err != nil {
			slog.Warn("history sink failed", "service", e.Service, "event", string(e.Type), "error", err)
			errs = append(errs, err)
		}
		cancel()
	}
	return errors.Join(errs...)
}

// Close closes every sink that supports it.
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, s := range f.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
