package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/edgard/zapbot/internal/resilience"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	ch chan Event
}

func newRecorder() *recorder { return &recorder{ch: make(chan Event, 256)} }

func (r *recorder) Observe(ev Event) { r.ch <- ev }

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job event")
		return Event{}
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func run(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func fixedConfig(attempts int) Config {
	return Config{
		MaxAttempts:   attempts,
		Backoff:       resilience.Backoff{Kind: resilience.BackoffFixed, Delay: time.Millisecond},
		Timeout:       time.Second,
		KeepCompleted: 10,
		KeepFailed:    10,
	}
}

func TestFailingJobStopsAtMaxAttempts(t *testing.T) {
	rec := newRecorder()
	m := NewManager(testLogger(), rec)
	q := m.AddQueue("media-processing", fixedConfig(3))

	var calls atomic.Int32
	boom := errors.New("boom")
	require.NoError(t, q.Process("audio", 1, func(ctx context.Context, job *Job) error {
		calls.Add(1)
		return boom
	}))
	run(t, m)

	h, err := q.Enqueue(context.Background(), "audio", map[string]string{"messageId": "m1"}, 3)
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		ev := rec.next(t)
		assert.Equal(t, EventRetrying, ev.Kind)
		assert.Equal(t, i, ev.Attempt)
		assert.ErrorIs(t, ev.Err, boom)
	}
	ev := rec.next(t)
	assert.Equal(t, EventFailed, ev.Kind)
	assert.Equal(t, 3, ev.Attempt)
	assert.Equal(t, h.ID, ev.JobID)

	// No fourth execution after the dead letter.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())

	failed := q.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, StatusFailed, failed[0].Status)
	assert.Equal(t, "boom", failed[0].LastError)
	assert.Equal(t, 1, q.Stats().Failed)
}

func TestPermanentErrorSkipsRetries(t *testing.T) {
	rec := newRecorder()
	m := NewManager(testLogger(), rec)
	invalid := errors.New("media exceeds limit")
	cfg := fixedConfig(3)
	cfg.Permanent = func(err error) bool { return errors.Is(err, invalid) }
	q := m.AddQueue("media-processing", cfg)

	var calls atomic.Int32
	require.NoError(t, q.Process("image", 1, func(ctx context.Context, job *Job) error {
		calls.Add(1)
		return fmt.Errorf("download: %w", invalid)
	}))
	run(t, m)

	_, err := q.Enqueue(context.Background(), "image", nil, 1)
	require.NoError(t, err)

	ev := rec.next(t)
	assert.Equal(t, EventFailed, ev.Kind)
	assert.True(t, ev.Permanent)
	assert.Equal(t, 1, ev.Attempt)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, q.Failed(), 1)
}

func TestExponentialBackoffDelays(t *testing.T) {
	rec := newRecorder()
	m := NewManager(testLogger(), rec)
	q := m.AddQueue("response-dispatch", Config{
		MaxAttempts: 4,
		Backoff:     resilience.Backoff{Kind: resilience.BackoffExponential, Delay: 5 * time.Millisecond},
		Timeout:     time.Second,
		KeepFailed:  1,
	})
	require.NoError(t, q.Process("send", 1, func(ctx context.Context, job *Job) error {
		return errors.New("gateway down")
	}))
	run(t, m)

	_, err := q.Enqueue(context.Background(), "send", nil, 1)
	require.NoError(t, err)

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		ev := rec.next(t)
		require.Equal(t, EventRetrying, ev.Kind)
		delays = append(delays, ev.Delay)
	}
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond}, delays)
	assert.Equal(t, EventFailed, rec.next(t).Kind)
}

func TestPriorityThenFIFO(t *testing.T) {
	rec := newRecorder()
	m := NewManager(testLogger(), rec)
	q := m.AddQueue("media-processing", fixedConfig(1))

	ctx := context.Background()
	for _, p := range []struct {
		name     string
		priority int
	}{{"video", 5}, {"image-a", 2}, {"doc", 4}, {"image-b", 2}} {
		_, err := q.Enqueue(ctx, "media", p.name, p.priority)
		require.NoError(t, err)
	}

	var (
		mu    sync.Mutex
		order []string
	)
	require.NoError(t, q.Process("media", 1, func(ctx context.Context, job *Job) error {
		var name string
		if err := job.Decode(&name); err != nil {
			return err
		}
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
		return nil
	}))
	run(t, m)

	for i := 0; i < 4; i++ {
		assert.Equal(t, EventCompleted, rec.next(t).Kind)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"image-a", "image-b", "doc", "video"}, order)
}

func TestEnqueueWithJobIDIsIdempotent(t *testing.T) {
	m := NewManager(testLogger(), nil)
	q := m.AddQueue("summary-generation", fixedConfig(1))

	ctx := context.Background()
	first, err := q.Enqueue(ctx, "summary", "a", 1, WithJobID("summary:g1:6h"))
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, "summary", "b", 1, WithJobID("summary:g1:6h"))
	require.NoError(t, err)

	assert.False(t, first.Existing)
	assert.True(t, second.Existing)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, q.Stats().Waiting)

	info, ok := q.Get("summary:g1:6h")
	require.True(t, ok)
	assert.JSONEq(t, `"a"`, string(info.Payload))
}

func TestRetryRequeuesDeadLetter(t *testing.T) {
	rec := newRecorder()
	m := NewManager(testLogger(), rec)
	q := m.AddQueue("summary-generation", fixedConfig(1))

	var fail atomic.Bool
	fail.Store(true)
	require.NoError(t, q.Process("summary", 1, func(ctx context.Context, job *Job) error {
		if fail.Load() {
			return errors.New("model overloaded")
		}
		return nil
	}))
	run(t, m)

	h, err := q.Enqueue(context.Background(), "summary", nil, 1)
	require.NoError(t, err)
	require.Equal(t, EventFailed, rec.next(t).Kind)

	assert.ErrorIs(t, q.Retry("missing"), ErrJobNotFound)

	fail.Store(false)
	require.NoError(t, q.Retry(h.ID))
	ev := rec.next(t)
	assert.Equal(t, EventCompleted, ev.Kind)
	assert.Equal(t, 1, ev.Attempt)

	assert.Empty(t, q.Failed())
	info, ok := q.Get(h.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, info.Status)
	assert.Equal(t, 100, info.Progress)
}

func TestPanickingHandlerCountsAsFailure(t *testing.T) {
	rec := newRecorder()
	m := NewManager(testLogger(), rec)
	q := m.AddQueue("media-processing", fixedConfig(1))
	require.NoError(t, q.Process("image", 1, func(ctx context.Context, job *Job) error {
		panic("nil image")
	}))
	run(t, m)

	_, err := q.Enqueue(context.Background(), "image", nil, 2)
	require.NoError(t, err)
	ev := rec.next(t)
	assert.Equal(t, EventFailed, ev.Kind)
	assert.ErrorIs(t, ev.Err, errHandlerPanic)
}

func TestCompletedHistoryIsBounded(t *testing.T) {
	rec := newRecorder()
	m := NewManager(testLogger(), rec)
	cfg := fixedConfig(1)
	cfg.KeepCompleted = 2
	q := m.AddQueue("response-dispatch", cfg)
	require.NoError(t, q.Process("send", 2, func(ctx context.Context, job *Job) error { return nil }))
	run(t, m)

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(context.Background(), "send", i, 1)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		require.Equal(t, EventCompleted, rec.next(t).Kind)
	}
	assert.Len(t, q.Completed(), 2)
}

func TestProcessAfterRunStartsWorkers(t *testing.T) {
	rec := newRecorder()
	m := NewManager(testLogger(), rec)
	q := m.AddQueue("summary-generation", fixedConfig(1))
	run(t, m)

	_, err := m.Enqueue(context.Background(), "summary-generation", "knowledge-bootstrap", nil, 1)
	require.NoError(t, err)
	require.NoError(t, q.Process("knowledge-bootstrap", 1, func(ctx context.Context, job *Job) error { return nil }))
	assert.ErrorIs(t, q.Process("knowledge-bootstrap", 1, nil), ErrDuplicateLane)

	assert.Equal(t, EventCompleted, rec.next(t).Kind)

	_, err = m.Enqueue(context.Background(), "nope", "x", nil, 1)
	assert.ErrorIs(t, err, ErrUnknownQueue)
}

func TestEnqueueAfterShutdownFails(t *testing.T) {
	m := NewManager(testLogger(), nil)
	q := m.AddQueue("media-processing", fixedConfig(1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)

	_, err := q.Enqueue(context.Background(), "audio", nil, 3)
	assert.ErrorIs(t, err, ErrQueueClosed)
}
