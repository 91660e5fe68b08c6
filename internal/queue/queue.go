// Package queue runs named in-process job queues with per-type worker
// pools, priorities, bounded retries with backoff, and a dead-letter list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgard/zapbot/internal/resilience"
)

// Handler processes one job. A returned error counts as a failed attempt.
type Handler func(ctx context.Context, job *Job) error

var (
	ErrQueueClosed    = errors.New("queue is closed")
	ErrJobNotFound    = errors.New("job not found")
	ErrDuplicateLane  = errors.New("handler already registered for job type")
	ErrUnknownQueue   = errors.New("unknown queue")
	errHandlerPanic   = errors.New("job handler panicked")
	defaultJobTimeout = 5 * time.Minute
)

// Config holds the retry and retention policy of one queue.
type Config struct {
	MaxAttempts   int
	Backoff       resilience.Backoff
	Timeout       time.Duration
	KeepCompleted int
	KeepFailed    int
	// Permanent reports handler errors that no retry can fix. Such jobs are
	// dead-lettered on their first failure.
	Permanent func(error) bool
}

// Option customizes a single enqueue.
type Option func(*Job)

// WithJobID makes the enqueue idempotent: while a job with the same id is
// pending or active, enqueueing it again returns the existing handle.
func WithJobID(id string) Option {
	return func(j *Job) { j.ID = id }
}

// WithMaxAttempts overrides the queue's attempt limit for one job.
func WithMaxAttempts(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.MaxAttempts = n
		}
	}
}

// Stats is a snapshot of job counts per status.
type Stats struct {
	Waiting   int `json:"waiting"`
	Delayed   int `json:"delayed"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Queue is a named set of job lanes, one per job type.
type Queue struct {
	name   string
	cfg    Config
	mgr    *Manager
	logger *slog.Logger

	mu        sync.Mutex
	lanes     map[string]*lane
	pending   map[string]*Job
	completed []*Job
	failed    []*Job
	seq       uint64
	closed    bool
}

func (q *Queue) Name() string { return q.name }

// Enqueue adds a job of the given type. Lower priority values run first;
// equal priorities run in enqueue order.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload any, priority int, opts ...Option) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to encode payload for %s/%s: %w", q.name, jobType, err)
	}

	job := &Job{
		Queue:       q.name,
		Type:        jobType,
		Payload:     raw,
		Priority:    priority,
		MaxAttempts: q.cfg.MaxAttempts,
		Backoff:     q.cfg.Backoff,
		CreatedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(job)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.MaxAttempts < 1 {
		job.MaxAttempts = 1
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Handle{}, ErrQueueClosed
	}
	if _, ok := q.pending[job.ID]; ok {
		return Handle{ID: job.ID, Queue: q.name, Existing: true}, nil
	}

	q.seq++
	job.seq = q.seq
	q.pending[job.ID] = job
	q.lane(jobType).push(job)

	q.logger.Debug("job enqueued", "job_id", job.ID, "type", jobType, "priority", priority)
	return Handle{ID: job.ID, Queue: q.name}, nil
}

// Process registers the handler for a job type and runs it on concurrency
// workers once the manager is running.
func (q *Queue) Process(jobType string, concurrency int, handler Handler) error {
	if concurrency < 1 {
		concurrency = 1
	}

	q.mu.Lock()
	l := q.lane(jobType)
	if l.handler != nil {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", ErrDuplicateLane, q.name, jobType)
	}
	l.handler = handler
	l.concurrency = concurrency
	q.mu.Unlock()

	q.mgr.startLane(q, l)
	return nil
}

// Get returns a snapshot of the job with the given id.
func (q *Queue) Get(id string) (Info, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job, ok := q.pending[id]; ok {
		return job.info(), true
	}
	for _, list := range [][]*Job{q.completed, q.failed} {
		for _, job := range list {
			if job.ID == id {
				return job.info(), true
			}
		}
	}
	return Info{}, false
}

// Failed lists dead-lettered jobs, oldest first.
func (q *Queue) Failed() []Info {
	q.mu.Lock()
	defer q.mu.Unlock()
	return snapshot(q.failed)
}

// Completed lists retained completed jobs, oldest first.
func (q *Queue) Completed() []Info {
	q.mu.Lock()
	defer q.mu.Unlock()
	return snapshot(q.completed)
}

// Retry moves a dead-lettered job back to waiting with a fresh attempt count.
func (q *Queue) Retry(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	for i, job := range q.failed {
		if job.ID != id {
			continue
		}
		q.failed = append(q.failed[:i], q.failed[i+1:]...)
		job.Attempts = 0
		job.LastError = ""
		job.FinishedAt = time.Time{}
		q.pending[job.ID] = job
		q.lane(job.Type).push(job)
		q.logger.Info("dead-lettered job requeued", "job_id", id, "type", job.Type)
		return nil
	}
	return fmt.Errorf("%w: %s/%s", ErrJobNotFound, q.name, id)
}

// Stats counts jobs by status.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	for _, job := range q.pending {
		switch job.Status {
		case StatusWaiting:
			s.Waiting++
		case StatusDelayed:
			s.Delayed++
		case StatusActive:
			s.Active++
		}
	}
	s.Completed = len(q.completed)
	s.Failed = len(q.failed)
	return s
}

// lane returns the lane for jobType, creating it. Caller holds q.mu.
func (q *Queue) lane(jobType string) *lane {
	l, ok := q.lanes[jobType]
	if !ok {
		l = newLane(jobType)
		q.lanes[jobType] = l
	}
	return l
}

func (q *Queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// work pulls jobs from l until ctx is done.
func (q *Queue) work(ctx context.Context, l *lane) {
	for {
		job, err := q.next(ctx, l)
		if err != nil {
			return
		}
		q.run(ctx, l, job)
	}
}

// next blocks until a job of l is ready or ctx is done.
func (q *Queue) next(ctx context.Context, l *lane) (*Job, error) {
	for {
		q.mu.Lock()
		now := time.Now()
		l.promote(now)
		if job := l.pop(); job != nil {
			job.Status = StatusActive
			job.Attempts++
			q.mu.Unlock()
			return job, nil
		}
		wait := l.nextWake(now)
		q.mu.Unlock()

		var (
			timer *time.Timer
			wake  <-chan time.Time
		)
		if wait >= 0 {
			timer = time.NewTimer(wait)
			wake = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil, ctx.Err()
		case <-l.notify:
		case <-wake:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (q *Queue) run(ctx context.Context, l *lane, job *Job) {
	timeout := q.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}

	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	err := invoke(jobCtx, l.handler, job)
	cancel()
	elapsed := time.Since(start)
	permanent := err != nil && q.cfg.Permanent != nil && q.cfg.Permanent(err)

	ev := Event{
		JobID:       job.ID,
		Queue:       q.name,
		Type:        job.Type,
		Payload:     job.Payload,
		Duration:    elapsed,
		MaxAttempts: job.MaxAttempts,
	}

	q.mu.Lock()
	ev.Attempt = job.Attempts
	switch {
	case err == nil:
		job.Status = StatusCompleted
		job.FinishedAt = time.Now()
		job.SetProgress(100)
		delete(q.pending, job.ID)
		q.completed = retain(q.completed, job, q.cfg.KeepCompleted)
		ev.Kind = EventCompleted

	case ctx.Err() != nil:
		// Shutdown interrupted the attempt; it does not count.
		job.Attempts--
		l.push(job)
		q.mu.Unlock()
		return

	case permanent || job.Attempts >= job.MaxAttempts:
		job.Status = StatusFailed
		job.LastError = err.Error()
		job.FinishedAt = time.Now()
		delete(q.pending, job.ID)
		q.failed = retain(q.failed, job, q.cfg.KeepFailed)
		ev.Kind = EventFailed
		ev.Err = err
		ev.Permanent = permanent

	default:
		delay := job.Backoff.Next(job.Attempts)
		job.LastError = err.Error()
		l.delay(job, time.Now().Add(delay))
		ev.Kind = EventRetrying
		ev.Err = err
		ev.Delay = delay
	}
	q.mu.Unlock()

	q.mgr.emit(ev)
}

func invoke(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errHandlerPanic, r)
		}
	}()
	return h(ctx, job)
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}

func retain(list []*Job, job *Job, keep int) []*Job {
	if keep <= 0 {
		return list[:0]
	}
	list = append(list, job)
	if over := len(list) - keep; over > 0 {
		list = append(list[:0], list[over:]...)
	}
	return list
}

func snapshot(list []*Job) []Info {
	out := make([]Info, 0, len(list))
	for _, job := range list {
		out = append(out, job.info())
	}
	return out
}
