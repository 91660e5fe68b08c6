package jobs

import (
	"context"
	"fmt"

	"github.com/edgard/zapbot/internal/database"
	apperr "github.com/edgard/zapbot/internal/errors"
	"github.com/edgard/zapbot/internal/queue"
)

// NewMediaHandler returns the handler of every media-processing job type.
func NewMediaHandler(deps Deps) queue.Handler {
	return mediaHandler{deps}.Handle
}

type mediaHandler struct {
	deps Deps
}

func (h mediaHandler) Handle(ctx context.Context, job *queue.Job) error {
	var p MediaPayload
	if err := decode(job, &p); err != nil {
		return err
	}
	kind := database.MessageType(job.Type)
	log := h.deps.Logger.With("handler", "media", "job_id", job.ID, "message_id", p.MessageID, "kind", kind)

	record, err := h.deps.Store.GetProcessedMedia(ctx, p.MessageID)
	if err != nil {
		return err
	}
	if record != nil && record.Status == database.MediaCompleted {
		log.InfoContext(ctx, "Reusing processed media from a previous attempt")
	} else {
		record, err = h.process(ctx, job, p, kind)
		if err != nil {
			log.WarnContext(ctx, "Media processing failed", "attempt", job.Attempts, "error", err)
			return err
		}
	}
	job.SetProgress(80)

	if kind == database.MessageSticker {
		return h.deps.Store.MarkMessageProcessed(ctx, p.MessageID, h.deps.now())
	}

	_, err = EnqueueReply(ctx, h.deps.Queue, ResponsePayload{
		MessageID: p.MessageID,
		ChatID:    p.ChatID,
		Content:   fmt.Sprintf(h.replyFormat(kind), record.Text()),
		Context:   "media:" + string(kind),
	})
	return err
}

// process downloads the media, runs the matching AI operation and persists
// the outcome, including failures.
func (h mediaHandler) process(ctx context.Context, job *queue.Job, p MediaPayload, kind database.MessageType) (*database.ProcessedMedia, error) {
	now := h.deps.now()
	record := &database.ProcessedMedia{
		MessageID: p.MessageID,
		MediaType: string(kind),
		MediaURL:  p.MediaURL,
		Status:    database.MediaPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.deps.Store.UpsertProcessedMedia(ctx, record); err != nil {
		return nil, err
	}

	media, err := h.deps.Gateway.Download(ctx, p.MediaURL)
	if err != nil {
		return nil, h.fail(ctx, record, err)
	}
	job.SetProgress(30)

	mimeType := media.MimeType
	if mimeType == "" {
		mimeType = p.MediaType
	}

	switch kind {
	case database.MessageAudio:
		record.Transcription, err = h.deps.AI.Transcribe(ctx, media.Data, mimeType)
	case database.MessageImage, database.MessageSticker:
		record.Description, err = h.deps.AI.DescribeImage(ctx, media.Data, mimeType, p.Content)
	case database.MessageVideo:
		record.Description, err = h.deps.AI.DescribeVideo(ctx, media.Data, mimeType, p.Content)
	case database.MessageDocument:
		record.Summary, err = h.deps.AI.SummarizeDocument(ctx, media.Data, mimeType, p.Content)
	default:
		err = apperr.NewValidationError(fmt.Sprintf("unsupported media kind %q", kind), nil)
	}
	if err != nil {
		return nil, h.fail(ctx, record, err)
	}
	job.SetProgress(60)

	record.Status = database.MediaCompleted
	record.Error = ""
	record.UpdatedAt = h.deps.now()
	if err := h.deps.Store.UpsertProcessedMedia(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (h mediaHandler) fail(ctx context.Context, record *database.ProcessedMedia, cause error) error {
	record.Status = database.MediaFailed
	record.Error = cause.Error()
	record.UpdatedAt = h.deps.now()
	if err := h.deps.Store.UpsertProcessedMedia(ctx, record); err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to record media failure", "message_id", record.MessageID, "error", err)
	}
	return cause
}

func (h mediaHandler) replyFormat(kind database.MessageType) string {
	m := h.deps.Config.Messages
	switch kind {
	case database.MessageAudio:
		return m.TranscriptFormat
	case database.MessageVideo:
		return m.VideoFormat
	case database.MessageDocument:
		return m.DocumentFormat
	default:
		return m.ImageFormat
	}
}
