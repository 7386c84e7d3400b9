// Package audit emits structured events around sync operations. Sinks are fire and
// forget: a failing or slow sink never changes the outcome of the wrapped operation.
package audit

import (
	"context"
	"log/slog"
	"time"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Event describes one completed operation.
type Event struct {
	Operation  string
	IdentityID string
	DeviceID   string
	RequestID  string
	Outcome    string
	Error      string
	Duration   time.Duration
	At         time.Time
	Attrs      map[string]any
}

// Set attaches an attribute to the event.
func (e *Event) Set(key string, value any) {
	if e.Attrs == nil {
		e.Attrs = make(map[string]any)
	}
	e.Attrs[key] = value
}

// Sink receives events.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// Run times fn and emits ev to sink once fn returns. fn may annotate the event.
// A sink error is logged to logger (when set) and never reaches the caller.
func Run[T any](ctx context.Context, sink Sink, logger *slog.Logger, ev Event, fn func(ctx context.Context, ev *Event) (T, error)) (T, error) {
	start := time.Now()
	out, err := fn(ctx, &ev)

	ev.Duration = time.Since(start)
	ev.At = start.UTC()
	ev.Outcome = OutcomeOK
	if err != nil {
		ev.Outcome = OutcomeError
		ev.Error = err.Error()
	}
	if sink != nil {
		if emitErr := sink.Emit(context.WithoutCancel(ctx), ev); emitErr != nil && logger != nil {
			logger.Warn("audit sink failed",
				slog.String("operation", ev.Operation),
				slog.String("request_id", ev.RequestID),
				slog.Any("error", emitErr))
		}
	}
	return out, err
}

// Fanout sends every event to each sink in turn and keeps going past failures.
type Fanout []Sink

func (f Fanout) Emit(ctx context.Context, ev Event) error {
	var first error
	for _, s := range f {
		if err := s.Emit(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
