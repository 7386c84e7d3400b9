package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// LoggerSink writes events to the structured logger.
type LoggerSink struct {
	logger *slog.Logger
}

// NewLoggerSink constructs a logging sink.
func NewLoggerSink(logger *slog.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

// Emit writes the event as one log line.
func (s *LoggerSink) Emit(ctx context.Context, ev Event) error {
	if s == nil || s.logger == nil {
		return nil
	}
	attrs := []any{
		slog.String("operation", ev.Operation),
		slog.String("outcome", ev.Outcome),
		slog.Duration("duration", ev.Duration),
	}
	if ev.IdentityID != "" {
		attrs = append(attrs, slog.String("identity_id", ev.IdentityID))
	}
	if ev.DeviceID != "" {
		attrs = append(attrs, slog.String("device_id", ev.DeviceID))
	}
	if ev.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", ev.RequestID))
	}
	for k, v := range ev.Attrs {
		attrs = append(attrs, slog.Any(k, v))
	}
	if ev.Error != "" {
		attrs = append(attrs, slog.String("error", ev.Error))
		s.logger.WarnContext(ctx, "audit", attrs...)
		return nil
	}
	s.logger.InfoContext(ctx, "audit", attrs...)
	return nil
}

// RedisStreamSink appends events to a Redis stream, capped at roughly maxLen entries.
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamSink builds a stream sink. maxLen <= 0 leaves the stream uncapped.
func NewRedisStreamSink(client *redis.Client, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Emit(ctx context.Context, ev Event) error {
	values := map[string]any{
		"operation":   ev.Operation,
		"outcome":     ev.Outcome,
		"identity_id": ev.IdentityID,
		"device_id":   ev.DeviceID,
		"request_id":  ev.RequestID,
		"duration_ms": ev.Duration.Milliseconds(),
		"at":          ev.At.Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if ev.Error != "" {
		values["error"] = ev.Error
	}
	if len(ev.Attrs) > 0 {
		raw, err := json.Marshal(ev.Attrs)
		if err != nil {
			return fmt.Errorf("encode audit attrs: %w", err)
		}
		values["attrs"] = string(raw)
	}
	args := &redis.XAddArgs{Stream: s.stream, Values: values}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// AsyncSink hands events to a background worker through a bounded buffer. When the
// buffer is full the event is dropped and counted; Emit never blocks.
type AsyncSink struct {
	next    Sink
	logger  *slog.Logger
	events  chan Event
	dropped atomic.Int64
	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
}

// NewAsyncSink starts the worker. Call Close to drain it.
func NewAsyncSink(next Sink, buffer int, logger *slog.Logger) *AsyncSink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &AsyncSink{
		next:   next,
		logger: logger,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for ev := range s.events {
		if err := s.next.Emit(context.Background(), ev); err != nil {
			s.logger.Warn("audit sink failed", slog.String("operation", ev.Operation), slog.Any("error", err))
		}
	}
}

// Emit queues the event. Events emitted after Close are dropped.
func (s *AsyncSink) Emit(_ context.Context, ev Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return nil
	}
	select {
	case s.events <- ev:
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.logger.Warn("audit buffer full, dropping events", slog.Int64("dropped", n))
		}
	}
	return nil
}

// Dropped reports how many events were discarded.
func (s *AsyncSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops accepting events and waits until the buffer is flushed or ctx ends.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
