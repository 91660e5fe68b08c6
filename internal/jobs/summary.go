package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/edgard/zapbot/internal/database"
	apperr "github.com/edgard/zapbot/internal/errors"
	"github.com/edgard/zapbot/internal/queue"
)

// NewSummaryHandler returns the handler of summary jobs.
func NewSummaryHandler(deps Deps) queue.Handler {
	return summaryHandler{deps}.Handle
}

type summaryHandler struct {
	deps Deps
}

func (h summaryHandler) Handle(ctx context.Context, job *queue.Job) error {
	var p SummaryPayload
	if err := decode(job, &p); err != nil {
		return err
	}
	log := h.deps.Logger.With("handler", "summary", "job_id", job.ID, "chat_id", p.ChatID, "period", p.Period)

	var (
		summary string
		err     error
	)
	if p.Force {
		summary, err = h.deps.Summaries.Regenerate(ctx, p.ChatID, p.Period)
	} else {
		summary, err = h.deps.Summaries.GetOrGenerate(ctx, p.ChatID, p.Period)
	}

	content := summary
	switch {
	case errors.Is(err, apperr.ErrInsufficientData):
		log.InfoContext(ctx, "Summary skipped, not enough messages")
		content = h.deps.Config.Messages.SummaryInsufficient
	case err != nil:
		return err
	}
	job.SetProgress(70)

	target := p.RequesterID
	if target == "" {
		target = p.ChatID
	}
	_, err = EnqueueReply(ctx, h.deps.Queue, ResponsePayload{
		ChatID:  target,
		Content: content,
		Context: fmt.Sprintf("summary:%s:%s", p.ChatID, p.Period),
	})
	return err
}

// NewBootstrapHandler returns the handler that rebuilds a per-contact
// knowledge corpus from recent chat history.
func NewBootstrapHandler(deps Deps) queue.Handler {
	return bootstrapHandler{deps}.Handle
}

type bootstrapHandler struct {
	deps Deps
}

func (h bootstrapHandler) Handle(ctx context.Context, job *queue.Job) error {
	var p BootstrapPayload
	if err := decode(job, &p); err != nil {
		return err
	}
	log := h.deps.Logger.With("handler", "bootstrap", "job_id", job.ID, "chat_id", p.ChatID, "category", p.Category)

	kcfg := h.deps.Config.Knowledge
	now := h.deps.now()
	messages, err := h.deps.Store.GetMessagesInWindow(ctx, p.ChatID, now.Add(-kcfg.BootstrapWindow), now, kcfg.BootstrapMaxMessages)
	if err != nil {
		return err
	}

	corpus := h.collect(ctx, messages)
	job.SetProgress(30)

	target := p.RequesterID
	if target == "" {
		target = p.ChatID
	}

	content := h.deps.Config.Messages.BootstrapEmpty
	if corpus != "" {
		n, err := h.deps.Knowledge.Bootstrap(ctx, p.Category, "chat:"+p.ChatID, corpus)
		if err != nil {
			return err
		}
		if n > 0 {
			content = fmt.Sprintf(h.deps.Config.Messages.BootstrapDoneFormat, n)
		}
		log.InfoContext(ctx, "Knowledge bootstrap finished", "messages", len(messages), "chunks", n)
	}
	job.SetProgress(90)

	_, err = EnqueueReply(ctx, h.deps.Queue, ResponsePayload{
		ChatID:  target,
		Content: content,
		Context: "bootstrap:" + p.Category,
	})
	return err
}

// collect joins the user-authored text of messages, including the AI output
// of processed media, skipping commands.
func (h bootstrapHandler) collect(ctx context.Context, messages []*database.Message) string {
	prefix := h.deps.Config.Router.CommandPrefix
	var parts []string
	for _, m := range messages {
		if m.FromMe {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if m.Type.IsMedia() {
			media, err := h.deps.Store.GetProcessedMedia(ctx, m.ID)
			if err != nil {
				h.deps.Logger.WarnContext(ctx, "Failed to load processed media for bootstrap", "message_id", m.ID, "error", err)
			} else if media != nil && media.Status == database.MediaCompleted {
				content = strings.TrimSpace(media.Text())
			}
		}
		if content == "" || strings.HasPrefix(content, prefix) {
			continue
		}
		parts = append(parts, content)
	}
	return strings.Join(parts, "\n\n")
}
