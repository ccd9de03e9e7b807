package tasks

import (
	"context"
	"fmt"
	"time"
)

// newRetentionPruneTask creates the scheduled task that deletes dedup
// markers older than the configured retention period.
func newRetentionPruneTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "retention_prune")

	return func(ctx context.Context) error {
		retention := time.Duration(deps.Config.Database.RetentionDays) * 24 * time.Hour
		cutoff := time.Now().UTC().Add(-retention)

		log.InfoContext(ctx, "Starting retention prune",
			"retention_days", deps.Config.Database.RetentionDays,
			"cutoff", cutoff.Format(time.RFC3339))
		startTime := time.Now()

		result, err := deps.Store.PruneOlderThan(ctx, cutoff)
		if err != nil {
			log.ErrorContext(ctx, "Retention prune failed", "error", err, "duration", time.Since(startTime))
			return fmt.Errorf("retention prune failed: %w", err)
		}

		log.InfoContext(ctx, "Retention prune completed",
			"messages_deleted", result.Messages,
			"reactions_deleted", result.Reactions,
			"duration", time.Since(startTime))

		// Row counts after pruning are worth a log line; failing to get
		// them is not worth failing the task.
		if stats, statsErr := deps.Store.GetStats(ctx); statsErr == nil {
			log.InfoContext(ctx, "Store stats after prune",
				"processed_messages", stats.ProcessedMessages,
				"processed_reactions", stats.ProcessedReactions,
				"state_entries", stats.StateEntries,
				"database_size_bytes", stats.DatabaseSizeBytes)
		}

		return nil
	}
}
