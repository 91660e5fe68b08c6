package jobs

import (
	"context"

	"github.com/edgard/zapbot/internal/gateway"
	"github.com/edgard/zapbot/internal/queue"
	"github.com/edgard/zapbot/internal/text"
)

// NewResponseHandler returns the handler that delivers outbound texts and
// marks the originating message processed.
func NewResponseHandler(deps Deps) queue.Handler {
	return responseHandler{deps}.Handle
}

type responseHandler struct {
	deps Deps
}

func (h responseHandler) Handle(ctx context.Context, job *queue.Job) error {
	var p ResponsePayload
	if err := decode(job, &p); err != nil {
		return err
	}
	log := h.deps.Logger.With("handler", "response", "job_id", job.ID, "chat_id", p.ChatID, "context", p.Context)

	content := text.Sanitize(p.Content)
	if content == "" && p.MediaURL == "" {
		log.WarnContext(ctx, "Dropping empty reply")
	} else {
		var err error
		if p.MediaURL != "" {
			err = h.deps.Gateway.SendMedia(ctx, p.ChatID, gateway.MediaRef{URL: p.MediaURL, Kind: p.MediaKind}, content)
		} else {
			err = h.deps.Gateway.SendText(ctx, p.ChatID, content)
		}
		if h.deps.Metrics != nil {
			h.deps.Metrics.Delivered(err == nil)
		}
		if err != nil {
			return err
		}
	}

	if p.MessageID != "" {
		// A failure here must not resend the reply.
		if err := h.deps.Store.MarkMessageProcessed(ctx, p.MessageID, h.deps.now()); err != nil {
			log.ErrorContext(ctx, "Failed to mark message processed", "message_id", p.MessageID, "error", err)
		}
	}
	log.DebugContext(ctx, "Reply delivered", "length", len(content))
	return nil
}
