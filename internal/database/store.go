package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store is the durable record of which messages and reactions have already
// been handled. It is the single source of truth for deduplication; any
// in-memory caches layered on top are best-effort accelerators only.
//
// All errors returned by Store methods wrap ErrStorage.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// IsMessageProcessed reports whether a durable marker exists for the
	// (messageID, chatID) natural key. Safe to call concurrently with writes.
	IsMessageProcessed(ctx context.Context, messageID, chatID int64) (bool, error)

	// MarkMessageProcessed writes the durable marker for a message. Writing
	// the same natural key twice succeeds silently (upsert semantics).
	MarkMessageProcessed(ctx context.Context, marker *ProcessedMessage) error

	// IsReactionProcessed reports whether a durable marker exists for the
	// reaction dedup key.
	IsReactionProcessed(ctx context.Context, reactionKey string) (bool, error)

	// MarkReactionProcessed writes the durable marker for a reaction with
	// upsert semantics.
	MarkReactionProcessed(ctx context.Context, marker *ProcessedReaction) error

	// GetState retrieves a bookkeeping value. The boolean reports presence.
	GetState(ctx context.Context, key string) (string, bool, error)

	// SetState stores a bookkeeping value, replacing any previous one.
	SetState(ctx context.Context, key, value string) error

	// PruneOlderThan deletes markers whose processed_at precedes the cutoff
	// and returns per-kind delete counts.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (PruneResult, error)

	// RunSQLMaintenance reclaims storage space (VACUUM). Safe to run while
	// reads continue; may block writers briefly.
	RunSQLMaintenance(ctx context.Context) error

	// GetStats returns row counts for observability.
	GetStats(ctx context.Context) (Stats, error)
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping failed: %v", ErrStorage, err)
	}
	return nil
}

// IsMessageProcessed reports whether a durable marker exists for the message.
func (s *sqlxStore) IsMessageProcessed(ctx context.Context, messageID, chatID int64) (bool, error) {
	if ctx.Err() != nil {
		return false, fmt.Errorf("%w: %v", ErrStorage, ctx.Err())
	}

	var exists int
	query := `SELECT 1 FROM processed_messages WHERE message_id = ? AND chat_id = ? LIMIT 1`
	err := s.db.GetContext(ctx, &exists, query, messageID, chatID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error checking processed message",
			"message_id", messageID, "chat_id", chatID, "error", err)
		return false, fmt.Errorf("%w: check processed message (chat %d, msg %d): %v",
			ErrStorage, chatID, messageID, err)
	}

	return true, nil
}

// MarkMessageProcessed writes the durable marker for a message.
// An existing marker for the same natural key is refreshed, never duplicated.
func (s *sqlxStore) MarkMessageProcessed(ctx context.Context, marker *ProcessedMessage) error {
	if marker == nil {
		return fmt.Errorf("%w: cannot mark nil message marker", ErrStorage)
	}
	if marker.ChatID == 0 {
		return fmt.Errorf("%w: message marker must have a non-zero chat_id", ErrStorage)
	}
	if marker.Timestamp.IsZero() {
		marker.Timestamp = time.Now().UTC()
	}
	marker.ProcessedAt = time.Now().UTC()

	query := `
        INSERT INTO processed_messages (message_id, chat_id, user_id, timestamp, processed_at)
        VALUES (:message_id, :chat_id, :user_id, :timestamp, :processed_at)
        ON CONFLICT (message_id, chat_id) DO UPDATE SET processed_at = excluded.processed_at;
    `

	if _, err := s.db.NamedExecContext(ctx, query, marker); err != nil {
		s.logger.ErrorContext(ctx, "Error marking message as processed",
			"message_id", marker.MessageID, "chat_id", marker.ChatID, "error", err)
		return fmt.Errorf("%w: mark message processed (chat %d, msg %d): %v",
			ErrStorage, marker.ChatID, marker.MessageID, err)
	}

	s.logger.DebugContext(ctx, "Marked message as processed",
		"message_id", marker.MessageID, "chat_id", marker.ChatID)
	return nil
}

// IsReactionProcessed reports whether a durable marker exists for the reaction key.
func (s *sqlxStore) IsReactionProcessed(ctx context.Context, reactionKey string) (bool, error) {
	if reactionKey == "" {
		return false, fmt.Errorf("%w: reaction key cannot be empty", ErrStorage)
	}
	if ctx.Err() != nil {
		return false, fmt.Errorf("%w: %v", ErrStorage, ctx.Err())
	}

	var exists int
	query := `SELECT 1 FROM processed_reactions WHERE reaction_key = ? LIMIT 1`
	err := s.db.GetContext(ctx, &exists, query, reactionKey)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error checking processed reaction",
			"reaction_key", reactionKey, "error", err)
		return false, fmt.Errorf("%w: check processed reaction %q: %v", ErrStorage, reactionKey, err)
	}

	return true, nil
}

// MarkReactionProcessed writes the durable marker for a reaction with upsert semantics.
func (s *sqlxStore) MarkReactionProcessed(ctx context.Context, marker *ProcessedReaction) error {
	if marker == nil {
		return fmt.Errorf("%w: cannot mark nil reaction marker", ErrStorage)
	}
	if marker.ReactionKey == "" {
		return fmt.Errorf("%w: reaction marker must have a non-empty reaction_key", ErrStorage)
	}
	marker.ProcessedAt = time.Now().UTC()

	query := `
        INSERT INTO processed_reactions (reaction_key, chat_id, message_id, user_id, reaction_emoji, processed_at)
        VALUES (:reaction_key, :chat_id, :message_id, :user_id, :reaction_emoji, :processed_at)
        ON CONFLICT (reaction_key) DO UPDATE SET processed_at = excluded.processed_at;
    `

	if _, err := s.db.NamedExecContext(ctx, query, marker); err != nil {
		s.logger.ErrorContext(ctx, "Error marking reaction as processed",
			"reaction_key", marker.ReactionKey, "error", err)
		return fmt.Errorf("%w: mark reaction processed %q: %v", ErrStorage, marker.ReactionKey, err)
	}

	s.logger.DebugContext(ctx, "Marked reaction as processed", "reaction_key", marker.ReactionKey)
	return nil
}

// GetState retrieves a bookkeeping value by key.
func (s *sqlxStore) GetState(ctx context.Context, key string) (string, bool, error) {
	var entry StateEntry
	query := `SELECT id, key, value, updated_at FROM bot_state WHERE key = ?`
	err := s.db.GetContext(ctx, &entry, query, key)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting state entry", "key", key, "error", err)
		return "", false, fmt.Errorf("%w: get state %q: %v", ErrStorage, key, err)
	}

	return entry.Value, true, nil
}

// SetState stores a bookkeeping value, replacing any previous one.
func (s *sqlxStore) SetState(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("%w: state key cannot be empty", ErrStorage)
	}

	query := `
        INSERT INTO bot_state (key, value, updated_at)
        VALUES (?, ?, ?)
        ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;
    `

	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		s.logger.ErrorContext(ctx, "Error setting state entry", "key", key, "error", err)
		return fmt.Errorf("%w: set state %q: %v", ErrStorage, key, err)
	}

	s.logger.DebugContext(ctx, "State entry updated", "key", key)
	return nil
}

// PruneOlderThan deletes markers processed before the cutoff, in a single
// transaction, and returns per-kind delete counts.
func (s *sqlxStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (PruneResult, error) {
	var result PruneResult

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for retention prune", "error", err)
		return result, fmt.Errorf("%w: begin prune transaction: %v", ErrStorage, err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	msgResult, err := tx.ExecContext(ctx,
		`DELETE FROM processed_messages WHERE processed_at < ?`, cutoff.UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error pruning processed messages", "error", err)
		return result, fmt.Errorf("%w: prune processed messages: %v", ErrStorage, err)
	}
	result.Messages, _ = msgResult.RowsAffected()

	reactResult, err := tx.ExecContext(ctx,
		`DELETE FROM processed_reactions WHERE processed_at < ?`, cutoff.UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error pruning processed reactions", "error", err)
		return result, fmt.Errorf("%w: prune processed reactions: %v", ErrStorage, err)
	}
	result.Reactions, _ = reactResult.RowsAffected()

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit retention prune", "error", err)
		return result, fmt.Errorf("%w: commit prune transaction: %v", ErrStorage, err)
	}
	tx = nil

	if result.Messages > 0 || result.Reactions > 0 {
		s.logger.InfoContext(ctx, "Retention prune completed",
			"messages_deleted", result.Messages,
			"reactions_deleted", result.Reactions,
			"cutoff", cutoff.UTC().Format(time.RFC3339))
	}
	return result, nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return fmt.Errorf("%w: %v", ErrStorage, ctx.Err())
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("%w: database maintenance (VACUUM) timed out: %v", ErrStorage, err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("%w: execute VACUUM: %v", ErrStorage, err)

	default:
		s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	}

	return nil
}

// GetStats returns row counts for the marker and state tables.
func (s *sqlxStore) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats

	if err := s.db.GetContext(ctx, &stats.ProcessedMessages,
		`SELECT COUNT(*) FROM processed_messages`); err != nil {
		return stats, fmt.Errorf("%w: count processed messages: %v", ErrStorage, err)
	}
	if err := s.db.GetContext(ctx, &stats.ProcessedReactions,
		`SELECT COUNT(*) FROM processed_reactions`); err != nil {
		return stats, fmt.Errorf("%w: count processed reactions: %v", ErrStorage, err)
	}
	if err := s.db.GetContext(ctx, &stats.StateEntries,
		`SELECT COUNT(*) FROM bot_state`); err != nil {
		return stats, fmt.Errorf("%w: count state entries: %v", ErrStorage, err)
	}
	if err := s.db.GetContext(ctx, &stats.DatabaseSizeBytes,
		`SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`); err != nil {
		return stats, fmt.Errorf("%w: read database size: %v", ErrStorage, err)
	}

	return stats, nil
}
