package handlers

import (
	"context"
	"strings"

	"github.com/edgard/zapbot/internal/database"
	"github.com/edgard/zapbot/internal/jobs"
)

// NewHistoryHandler returns a handler for the !historico command, which
// queues a digest of the current conversation.
func NewHistoryHandler(deps HandlerDeps) HandlerFunc {
	return historyHandler{deps}.Handle
}

type historyHandler struct {
	deps HandlerDeps
}

func (h historyHandler) Handle(ctx context.Context, msg *database.Message, args string) (string, error) {
	period, ok := resolvePeriod(h.deps, firstField(args))
	if !ok {
		return h.deps.Config.Messages.HistoryUsage, nil
	}

	_, err := jobs.EnqueueSummary(ctx, h.deps.Queue, jobs.SummaryPayload{
		ChatID:      msg.ChatID,
		Period:      period,
		RequesterID: msg.ChatID,
	}, jobs.PriorityInteractive)
	return "", err
}

// NewSummaryHandler returns a handler for the !resumo command, which queues
// a group digest delivered to the requester.
func NewSummaryHandler(deps HandlerDeps) HandlerFunc {
	return summaryHandler{deps}.Handle
}

type summaryHandler struct {
	deps HandlerDeps
}

func (h summaryHandler) Handle(ctx context.Context, msg *database.Message, args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 || len(fields) > 2 {
		return h.deps.Config.Messages.SummaryUsage, nil
	}

	groupID := fields[0]
	if !strings.Contains(groupID, "@") {
		groupID += "@g.us"
	}

	var requested string
	if len(fields) == 2 {
		requested = fields[1]
	}
	period, ok := resolvePeriod(h.deps, requested)
	if !ok {
		return h.deps.Config.Messages.SummaryUsage, nil
	}

	_, err := jobs.EnqueueSummary(ctx, h.deps.Queue, jobs.SummaryPayload{
		ChatID:      groupID,
		Period:      period,
		RequesterID: msg.ChatID,
	}, jobs.PriorityInteractive)
	return "", err
}

// resolvePeriod validates a period name; an empty name selects the default.
func resolvePeriod(deps HandlerDeps, name string) (string, bool) {
	if name == "" {
		name = deps.Config.Summary.DefaultPeriod
	}
	name = strings.ToLower(name)
	if _, ok := deps.Config.Summary.Period(name); !ok {
		return "", false
	}
	return name, true
}

func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
