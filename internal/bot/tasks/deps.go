// Package tasks implements the scheduled tasks of zapbot: database
// maintenance and the daily group digests.
package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgard/zapbot/internal/config"
	"github.com/edgard/zapbot/internal/jobs"
)

// Store is the slice of the message store used by scheduled tasks.
type Store interface {
	RunSQLMaintenance(ctx context.Context) error
	ListActiveGroups(ctx context.Context, since time.Time) ([]string, error)
	HasGroupSummarySince(ctx context.Context, chatID, period string, since time.Time) (bool, error)
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  Store
	Queue  jobs.Enqueuer
	Config *config.Config
	Now    func() time.Time
}

func (d TaskDeps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}
