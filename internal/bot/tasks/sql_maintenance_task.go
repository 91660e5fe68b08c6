package tasks

import (
	"context"
	"fmt"
	"time"
)

const maintenanceTimeout = 10 * time.Minute

// newSQLMaintenanceTask vacuums the message store, bounded by
// maintenanceTimeout.
func newSQLMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "sql_maintenance")

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, maintenanceTimeout)
		defer cancel()

		started := deps.now()
		if err := deps.Store.RunSQLMaintenance(ctx); err != nil {
			log.ErrorContext(ctx, "Vacuum failed", "error", err)
			return fmt.Errorf("sql maintenance: %w", err)
		}
		log.InfoContext(ctx, "Vacuum finished", "started_at", started, "timeout", maintenanceTimeout)
		return nil
	}
}
