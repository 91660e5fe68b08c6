package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/edgard/zapbot/internal/config"
	"github.com/edgard/zapbot/internal/database"
	apperr "github.com/edgard/zapbot/internal/errors"
	"github.com/edgard/zapbot/internal/logger"
	"github.com/edgard/zapbot/internal/metrics"
	"github.com/edgard/zapbot/internal/queue"
)

// Notifier delivers operator alerts.
type Notifier interface {
	SendText(ctx context.Context, chatID, body string) error
}

// Observer logs job lifecycle events, records metrics and reports
// dead-lettered jobs to the operator chat and to whoever asked for them.
type Observer struct {
	logger         *slog.Logger
	metrics        *metrics.Metrics
	notifier       Notifier
	operatorChatID string
	format         string
	timeout        time.Duration
	requesters     *Deps
}

// NewObserver creates an observer. metrics and notifier may be nil; alerts
// are only sent when operatorChatID is set.
func NewObserver(log *slog.Logger, m *metrics.Metrics, notifier Notifier, operatorChatID, format string, timeout time.Duration) *Observer {
	return &Observer{
		logger:         log.With("component", "job_observer"),
		metrics:        m,
		notifier:       notifier,
		operatorChatID: operatorChatID,
		format:         format,
		timeout:        timeout,
	}
}

// NotifyRequesters makes the observer answer the requester of every
// dead-lettered command and media job. It must be called before the queues
// run.
func (o *Observer) NotifyRequesters(deps Deps) {
	o.requesters = &deps
}

func (o *Observer) Observe(ev queue.Event) {
	attrs := []any{"queue", ev.Queue, "type", ev.Type, "job_id", ev.JobID, "attempt", ev.Attempt, "max_attempts", ev.MaxAttempts, "duration", ev.Duration}

	switch ev.Kind {
	case queue.EventCompleted:
		o.logger.Debug("Job completed", attrs...)
	case queue.EventRetrying:
		o.logger.Warn("Job failed, retrying", append(attrs, "delay", ev.Delay, "error", ev.Err)...)
	case queue.EventFailed:
		attrs = append(attrs, "error", ev.Err, "permanent", ev.Permanent, "payload", logger.Truncate(string(ev.Payload), 200))
		if apperr.IsValidation(ev.Err) {
			o.logger.Warn("Job rejected", attrs...)
		} else {
			o.logger.Error("Job dead-lettered", attrs...)
			o.notify(ev)
		}
		o.answerRequester(ev)
	}

	if o.metrics != nil {
		o.metrics.JobEvent(ev.Queue, ev.Type, string(ev.Kind), ev.Duration)
	}
}

func (o *Observer) notify(ev queue.Event) {
	if o.notifier == nil || o.operatorChatID == "" {
		return
	}

	errText := ""
	if ev.Err != nil {
		errText = logger.Truncate(ev.Err.Error(), 300)
	}
	body := fmt.Sprintf(o.format, ev.Queue, ev.Type, ev.JobID, ev.Attempt, errText)

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	if err := o.notifier.SendText(ctx, o.operatorChatID, body); err != nil {
		o.logger.Error("Failed to notify operator", "job_id", ev.JobID, "error", err)
	}
}

// answerRequester queues the failure notice of a dead-lettered job. Media
// messages get an apology that also completes them and stickers are completed
// silently. Failed replies are not answered again.
func (o *Observer) answerRequester(ev queue.Event) {
	if o.requesters == nil {
		return
	}
	deps := o.requesters
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	var (
		reply ResponsePayload
		err   error
	)
	switch {
	case ev.Queue == config.QueueMedia:
		var p MediaPayload
		if err = json.Unmarshal(ev.Payload, &p); err != nil {
			break
		}
		if ev.Type == string(database.MessageSticker) {
			err = deps.Store.MarkMessageProcessed(ctx, p.MessageID, deps.now())
			break
		}
		reply = ResponsePayload{MessageID: p.MessageID, ChatID: p.ChatID, Content: deps.Config.Messages.Apology}
	case ev.Type == TypeSummary:
		// Scheduled digests have no requester and fail silently.
		var p SummaryPayload
		if err = json.Unmarshal(ev.Payload, &p); err == nil {
			reply = ResponsePayload{ChatID: p.RequesterID, Content: deps.Config.Messages.CommandFailed}
		}
	case ev.Type == TypeBootstrap:
		var p BootstrapPayload
		if err = json.Unmarshal(ev.Payload, &p); err == nil {
			reply = ResponsePayload{ChatID: firstNonEmpty(p.RequesterID, p.ChatID), Content: deps.Config.Messages.CommandFailed}
		}
	default:
		return
	}

	if err == nil && reply.ChatID != "" {
		reply.Context = "failed:" + ev.JobID
		_, err = EnqueueReply(ctx, deps.Queue, reply)
	}
	if err != nil {
		o.logger.Error("Failed to answer requester of dead-lettered job", "queue", ev.Queue, "job_id", ev.JobID, "error", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
