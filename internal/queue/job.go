package queue

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/edgard/zapbot/internal/resilience"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusDelayed   Status = "delayed"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is a unit of work owned by a queue. Handlers receive the job while it
// is active and may read its fields and report progress; every other field
// is written by the queue under its lock.
type Job struct {
	ID          string
	Queue       string
	Type        string
	Payload     json.RawMessage
	Priority    int
	Attempts    int
	MaxAttempts int
	Backoff     resilience.Backoff
	Status      Status
	LastError   string
	CreatedAt   time.Time
	FinishedAt  time.Time

	progress int32
	seq      uint64
	readyAt  time.Time
	index    int
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload of job %s: %w", j.Type, j.ID, err)
	}
	return nil
}

// SetProgress records an advisory completion percentage.
func (j *Job) SetProgress(pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	atomic.StoreInt32(&j.progress, int32(pct))
}

// Progress returns the last reported percentage.
func (j *Job) Progress() int {
	return int(atomic.LoadInt32(&j.progress))
}

// Info is a point-in-time copy of a job.
type Info struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	Progress    int             `json:"progress"`
	Status      Status          `json:"status"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	FinishedAt  time.Time       `json:"finishedAt,omitempty"`
}

func (j *Job) info() Info {
	return Info{
		ID:          j.ID,
		Queue:       j.Queue,
		Type:        j.Type,
		Payload:     j.Payload,
		Priority:    j.Priority,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		Progress:    j.Progress(),
		Status:      j.Status,
		LastError:   j.LastError,
		CreatedAt:   j.CreatedAt,
		FinishedAt:  j.FinishedAt,
	}
}

// Handle identifies an enqueued job. Existing is set when an idempotent
// enqueue matched a job that was already pending.
type Handle struct {
	ID       string
	Queue    string
	Existing bool
}

// EventKind tags a job lifecycle result.
type EventKind string

const (
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventRetrying  EventKind = "retrying"
)

// Event is emitted once per handler run.
type Event struct {
	Kind        EventKind
	JobID       string
	Queue       string
	Type        string
	Payload     json.RawMessage
	Attempt     int
	MaxAttempts int
	// Err is set for Failed and Retrying.
	Err error
	// Permanent marks a Failed job that was not retried because its error
	// matched Config.Permanent.
	Permanent bool
	// Delay is the backoff before the next attempt, for Retrying.
	Delay    time.Duration
	Duration time.Duration
}

// Observer consumes job lifecycle events on a single goroutine.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }
