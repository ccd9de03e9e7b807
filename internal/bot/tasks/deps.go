// Package tasks implements the scheduled maintenance tasks for issuebot:
// marker retention pruning and SQLite space reclamation.
package tasks

import (
	"log/slog"

	"github.com/edgard/issuebot/internal/config"
	"github.com/edgard/issuebot/internal/database"
)

// TaskDeps contains the dependencies available to scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
	Config *config.Config
}
