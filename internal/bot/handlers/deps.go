package handlers

import (
	"context"
	"log/slog"

	"github.com/edgard/zapbot/internal/config"
	"github.com/edgard/zapbot/internal/jobs"
	"github.com/edgard/zapbot/internal/knowledge"
)

// Searcher runs knowledge retrieval for a category.
type Searcher interface {
	Search(ctx context.Context, query, category string) ([]knowledge.Result, error)
}

// HandlerDeps provides dependencies for one-shot command handlers.
type HandlerDeps struct {
	Logger    *slog.Logger
	Config    *config.Config
	Queue     jobs.Enqueuer
	Knowledge Searcher
}
