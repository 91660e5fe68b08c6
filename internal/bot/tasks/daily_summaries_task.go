package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgard/zapbot/internal/jobs"
)

// newDailySummariesTask creates the task that queues the daily digest of
// every group active in the last day. Groups that already have a digest row
// for the current day are skipped.
func newDailySummariesTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "daily_group_summaries")

	return func(ctx context.Context) error {
		period := deps.Config.Summary.DailyPeriod
		now := deps.now()
		startOfDay := now.Truncate(24 * time.Hour)

		storeCtx, cancel := context.WithTimeout(ctx, deps.Config.Timeouts.Store)
		groups, err := deps.Store.ListActiveGroups(storeCtx, now.Add(-24*time.Hour))
		cancel()
		if err != nil {
			return fmt.Errorf("list active groups: %w", err)
		}
		if len(groups) == 0 {
			log.InfoContext(ctx, "No active groups, nothing to summarize")
			return nil
		}

		var (
			queued, skipped int
			errs            []error
		)
		for _, chatID := range groups {
			if ctx.Err() != nil {
				errs = append(errs, ctx.Err())
				break
			}

			storeCtx, cancel := context.WithTimeout(ctx, deps.Config.Timeouts.Store)
			done, err := deps.Store.HasGroupSummarySince(storeCtx, chatID, period, startOfDay)
			cancel()
			if err != nil {
				errs = append(errs, fmt.Errorf("check %s: %w", chatID, err))
				continue
			}
			if done {
				skipped++
				continue
			}

			if _, err := jobs.EnqueueSummary(ctx, deps.Queue, jobs.SummaryPayload{ChatID: chatID, Period: period}, jobs.PriorityScheduled); err != nil {
				errs = append(errs, fmt.Errorf("enqueue %s: %w", chatID, err))
				continue
			}
			queued++
		}

		log.InfoContext(ctx, "Daily group summaries queued",
			"groups", len(groups),
			"queued", queued,
			"skipped", skipped,
			"errors", len(errs))
		return errors.Join(errs...)
	}
}
