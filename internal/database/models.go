package database

import (
	"database/sql"
	"time"
)

// Marker kinds used as the first half of a natural key.
const (
	KindMessage  = "message"
	KindReaction = "reaction"
)

// ProcessedMessage is the durable marker recording that a chat message has
// been ingested. The (message_id, chat_id) pair is the natural key.
type ProcessedMessage struct {
	ID          uint          `db:"id"`
	MessageID   int64         `db:"message_id"`
	ChatID      int64         `db:"chat_id"`
	UserID      sql.NullInt64 `db:"user_id"`
	Timestamp   time.Time     `db:"timestamp"`
	ProcessedAt time.Time     `db:"processed_at"`
}

// ProcessedReaction is the durable marker recording that a reaction has been
// acted upon. ReactionKey is the composite dedup key and the natural key.
type ProcessedReaction struct {
	ID            uint          `db:"id"`
	ReactionKey   string        `db:"reaction_key"`
	ChatID        int64         `db:"chat_id"`
	MessageID     int64         `db:"message_id"`
	UserID        sql.NullInt64 `db:"user_id"`
	ReactionEmoji string        `db:"reaction_emoji"`
	ProcessedAt   time.Time     `db:"processed_at"`
}

// StateEntry is an arbitrary key/value bookkeeping record, e.g. the
// last-processed timestamp per chat.
type StateEntry struct {
	ID        uint      `db:"id"`
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// PruneResult reports per-kind delete counts from a retention pass.
type PruneResult struct {
	Messages  int64
	Reactions int64
}

// Stats summarizes the durable store contents for startup and maintenance logging.
type Stats struct {
	ProcessedMessages  int64
	ProcessedReactions int64
	StateEntries       int64
	DatabaseSizeBytes  int64
}
