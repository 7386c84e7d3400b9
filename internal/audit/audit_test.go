package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biosync/biosync/internal/logging"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
	block  chan struct{}
}

func (r *recorder) Emit(_ context.Context, ev Event) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestRunEmitsAfterCompletion(t *testing.T) {
	rec := &recorder{}
	out, err := Run(context.Background(), rec, logging.Discard(), Event{Operation: "upload", DeviceID: "dev-1"},
		func(_ context.Context, ev *Event) (int, error) {
			ev.Set("items", 3)
			return 3, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, out)

	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, OutcomeOK, events[0].Outcome)
	assert.Equal(t, 3, events[0].Attrs["items"])
	assert.False(t, events[0].At.IsZero())
}

func TestRunKeepsOperationErrorAndLogsSinkError(t *testing.T) {
	rec := &recorder{err: errors.New("sink down")}
	boom := errors.New("boom")
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	_, err := Run(context.Background(), rec, logger, Event{Operation: "download"},
		func(context.Context, *Event) (struct{}, error) { return struct{}{}, boom })
	require.ErrorIs(t, err, boom)

	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, OutcomeError, events[0].Outcome)
	assert.Equal(t, "boom", events[0].Error)
	assert.Contains(t, logs.String(), "audit sink failed")
	assert.Contains(t, logs.String(), "sink down")

	_, err = Run(context.Background(), rec, logging.Discard(), Event{Operation: "download"},
		func(context.Context, *Event) (string, error) { return "ok", nil })
	require.NoError(t, err)
}

func TestAsyncSinkNeverBlocks(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	sink := NewAsyncSink(rec, 1, logging.Discard())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = sink.Emit(context.Background(), Event{Operation: "upload"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a stalled sink")
	}
	assert.Positive(t, sink.Dropped())

	close(rec.block)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx))
	require.NoError(t, sink.Emit(context.Background(), Event{Operation: "late"}))
	assert.NotEmpty(t, rec.snapshot())
}

func TestRedisStreamSink(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sink := NewRedisStreamSink(client, "audit:sync", 100)
	ev := Event{Operation: "upload", Outcome: OutcomeOK, DeviceID: "dev-1", At: time.Now()}
	ev.Set("items", 2)
	require.NoError(t, sink.Emit(context.Background(), ev))

	entries, err := client.XRange(context.Background(), "audit:sync", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "upload", entries[0].Values["operation"])
	assert.Equal(t, "dev-1", entries[0].Values["device_id"])
	assert.JSONEq(t, `{"items":2}`, entries[0].Values["attrs"].(string))
}

func TestFanoutContinuesPastFailure(t *testing.T) {
	bad := &recorder{err: errors.New("nope")}
	good := &recorder{}
	err := Fanout{bad, good}.Emit(context.Background(), Event{Operation: "x"})
	require.Error(t, err)
	assert.Len(t, good.snapshot(), 1)
}
