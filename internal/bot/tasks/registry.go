package tasks

import (
	"context"
)

// ScheduledTaskFunc is the signature shared by all scheduled tasks. The
// context comes from the scheduler and must be respected for cancellation.
// A returned error is logged by the scheduler; it never stops other tasks.
type ScheduledTaskFunc func(ctx context.Context) error

// RegisterAllTasks builds the task registry. The map keys match the task
// names used in the scheduler configuration.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := map[string]ScheduledTaskFunc{
		"retention_prune": newRetentionPruneTask(deps),
		"sql_maintenance": newSQLMaintenanceTask(deps),
	}

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
