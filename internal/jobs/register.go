package jobs

import (
	"errors"
	"fmt"
	"sort"

	"github.com/edgard/zapbot/internal/config"
	apperr "github.com/edgard/zapbot/internal/errors"
	"github.com/edgard/zapbot/internal/gateway"
	"github.com/edgard/zapbot/internal/queue"
	"github.com/edgard/zapbot/internal/resilience"
)

// SetupQueues creates every configured queue on mgr.
func SetupQueues(mgr *queue.Manager, queues map[string]config.QueueConfig) error {
	names := make([]string, 0, len(queues))
	for name := range queues {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		qc := queues[name]
		backoff, err := resilience.ParseBackoff(qc.Backoff, qc.BackoffDelay)
		if err != nil {
			return fmt.Errorf("queue %s: %w", name, err)
		}
		mgr.AddQueue(name, queue.Config{
			MaxAttempts:   qc.MaxAttempts,
			Backoff:       backoff,
			Timeout:       qc.Timeout,
			KeepCompleted: qc.KeepCompleted,
			KeepFailed:    qc.KeepFailed,
			Permanent:     IsPermanent,
		})
	}
	return nil
}

// Register attaches every job handler to its queue with the configured
// per-type concurrency.
func Register(mgr *queue.Manager, deps Deps) error {
	media := NewMediaHandler(deps)
	for _, kind := range MediaKinds {
		if err := process(mgr, deps.Config.Queues, config.QueueMedia, string(kind), media); err != nil {
			return err
		}
	}
	if err := process(mgr, deps.Config.Queues, config.QueueSummary, TypeSummary, NewSummaryHandler(deps)); err != nil {
		return err
	}
	if err := process(mgr, deps.Config.Queues, config.QueueSummary, TypeBootstrap, NewBootstrapHandler(deps)); err != nil {
		return err
	}
	return process(mgr, deps.Config.Queues, config.QueueResponse, TypeSend, NewResponseHandler(deps))
}

func process(mgr *queue.Manager, queues map[string]config.QueueConfig, queueName, jobType string, h queue.Handler) error {
	q, ok := mgr.Queue(queueName)
	if !ok {
		return fmt.Errorf("%w: %s", queue.ErrUnknownQueue, queueName)
	}
	concurrency := queues[queueName].Concurrency[jobType]
	if concurrency < 1 {
		concurrency = 1
	}
	return q.Process(jobType, concurrency, h)
}

// IsPermanent reports job errors that a retry cannot fix: invalid payloads or
// media, and replies already partly delivered.
func IsPermanent(err error) bool {
	var partial *gateway.PartialSendError
	return apperr.IsValidation(err) || errors.As(err, &partial)
}

// decode unmarshals the payload of job, reporting malformed payloads as
// validation errors.
func decode(job *queue.Job, v any) error {
	if err := job.Decode(v); err != nil {
		return apperr.NewValidationError("malformed job payload", err)
	}
	return nil
}
