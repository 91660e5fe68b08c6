package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgard/zapbot/internal/config"
	"github.com/edgard/zapbot/internal/database"
	"github.com/edgard/zapbot/internal/gateway"
	"github.com/edgard/zapbot/internal/gemini"
	"github.com/edgard/zapbot/internal/metrics"
)

// Store is the slice of the message store used by job handlers.
type Store interface {
	GetProcessedMedia(ctx context.Context, messageID string) (*database.ProcessedMedia, error)
	UpsertProcessedMedia(ctx context.Context, media *database.ProcessedMedia) error
	MarkMessageProcessed(ctx context.Context, id string, at time.Time) error
	GetMessagesInWindow(ctx context.Context, chatID string, start, end time.Time, limit int) ([]*database.Message, error)
}

// Gateway sends replies and fetches inbound media.
type Gateway interface {
	SendText(ctx context.Context, chatID, body string) error
	SendMedia(ctx context.Context, chatID string, media gateway.MediaRef, caption string) error
	Download(ctx context.Context, mediaURL string) (*gateway.Media, error)
}

type Summaries interface {
	GetOrGenerate(ctx context.Context, chatID, period string) (string, error)
	Regenerate(ctx context.Context, chatID, period string) (string, error)
}

type Bootstrapper interface {
	Bootstrap(ctx context.Context, category, source, text string) (int, error)
}

// Deps provides dependencies for job handlers.
type Deps struct {
	Logger    *slog.Logger
	Config    *config.Config
	Store     Store
	AI        gemini.Client
	Gateway   Gateway
	Summaries Summaries
	Knowledge Bootstrapper
	Queue     Enqueuer
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}
