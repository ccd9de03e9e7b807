package database_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgard/issuebot/internal/database"
)

func newTestStore(t *testing.T) database.Store {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	return database.NewStore(db, nil)
}

func TestMarkMessageProcessedIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	marker := &database.ProcessedMessage{
		MessageID: 55,
		ChatID:    -100123,
		UserID:    sql.NullInt64{Int64: 999, Valid: true},
		Timestamp: time.Now().UTC(),
	}

	if err := store.MarkMessageProcessed(ctx, marker); err != nil {
		t.Fatalf("MarkMessageProcessed() error = %v", err)
	}

	// Writing the same natural key again must succeed silently.
	if err := store.MarkMessageProcessed(ctx, marker); err != nil {
		t.Fatalf("MarkMessageProcessed() second write error = %v", err)
	}

	processed, err := store.IsMessageProcessed(ctx, 55, -100123)
	if err != nil {
		t.Fatalf("IsMessageProcessed() error = %v", err)
	}
	if !processed {
		t.Error("IsMessageProcessed() = false, want true")
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.ProcessedMessages != 1 {
		t.Errorf("ProcessedMessages = %d, want 1 (upsert must not duplicate)", stats.ProcessedMessages)
	}
}

func TestIsMessageProcessedUnknownKey(t *testing.T) {
	store := newTestStore(t)

	processed, err := store.IsMessageProcessed(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("IsMessageProcessed() error = %v", err)
	}
	if processed {
		t.Error("IsMessageProcessed() = true for unknown key, want false")
	}
}

func TestMarkReactionProcessedIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	marker := &database.ProcessedReaction{
		ReactionKey:   "-100123_55_👍",
		ChatID:        -100123,
		MessageID:     55,
		UserID:        sql.NullInt64{Int64: 999, Valid: true},
		ReactionEmoji: "👍",
	}

	for i := 0; i < 2; i++ {
		if err := store.MarkReactionProcessed(ctx, marker); err != nil {
			t.Fatalf("MarkReactionProcessed() write %d error = %v", i+1, err)
		}
	}

	processed, err := store.IsReactionProcessed(ctx, "-100123_55_👍")
	if err != nil {
		t.Fatalf("IsReactionProcessed() error = %v", err)
	}
	if !processed {
		t.Error("IsReactionProcessed() = false, want true")
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.ProcessedReactions != 1 {
		t.Errorf("ProcessedReactions = %d, want 1", stats.ProcessedReactions)
	}
}

func TestPruneOlderThan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := &database.ProcessedMessage{MessageID: 1, ChatID: -1, Timestamp: time.Now().UTC()}
	fresh := &database.ProcessedMessage{MessageID: 2, ChatID: -1, Timestamp: time.Now().UTC()}
	reaction := &database.ProcessedReaction{ReactionKey: "-1_1_👍", ChatID: -1, MessageID: 1, ReactionEmoji: "👍"}

	if err := store.MarkMessageProcessed(ctx, old); err != nil {
		t.Fatalf("MarkMessageProcessed() error = %v", err)
	}
	if err := store.MarkMessageProcessed(ctx, fresh); err != nil {
		t.Fatalf("MarkMessageProcessed() error = %v", err)
	}
	if err := store.MarkReactionProcessed(ctx, reaction); err != nil {
		t.Fatalf("MarkReactionProcessed() error = %v", err)
	}

	// A cutoff in the past deletes nothing.
	result, err := store.PruneOlderThan(ctx, time.Now().UTC().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("PruneOlderThan() error = %v", err)
	}
	if result.Messages != 0 || result.Reactions != 0 {
		t.Errorf("PruneOlderThan(past cutoff) = %+v, want zero deletes", result)
	}

	// A cutoff in the future deletes everything.
	result, err = store.PruneOlderThan(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneOlderThan() error = %v", err)
	}
	if result.Messages != 2 {
		t.Errorf("PruneOlderThan() messages = %d, want 2", result.Messages)
	}
	if result.Reactions != 1 {
		t.Errorf("PruneOlderThan() reactions = %d, want 1", result.Reactions)
	}

	processed, err := store.IsMessageProcessed(ctx, 1, -1)
	if err != nil {
		t.Fatalf("IsMessageProcessed() error = %v", err)
	}
	if processed {
		t.Error("IsMessageProcessed() = true after prune, want false")
	}
}

func TestStateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, found, err := store.GetState(ctx, "last_processed_-100123"); err != nil || found {
		t.Fatalf("GetState() on empty store = found %v, err %v; want absent, nil", found, err)
	}

	if err := store.SetState(ctx, "last_processed_-100123", "2025-01-02T03:04:05Z"); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	if err := store.SetState(ctx, "last_processed_-100123", "2025-06-07T08:09:10Z"); err != nil {
		t.Fatalf("SetState() overwrite error = %v", err)
	}

	value, found, err := store.GetState(ctx, "last_processed_-100123")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !found {
		t.Fatal("GetState() found = false, want true")
	}
	if value != "2025-06-07T08:09:10Z" {
		t.Errorf("GetState() = %q, want latest value", value)
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.StateEntries != 1 {
		t.Errorf("StateEntries = %d, want 1", stats.StateEntries)
	}
}

func TestGetStatsIncludesDatabaseSize(t *testing.T) {
	store := newTestStore(t)

	stats, err := store.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.DatabaseSizeBytes <= 0 {
		t.Errorf("DatabaseSizeBytes = %d, want positive size for a migrated database", stats.DatabaseSizeBytes)
	}
}

func TestRunSQLMaintenance(t *testing.T) {
	store := newTestStore(t)

	if err := store.RunSQLMaintenance(context.Background()); err != nil {
		t.Fatalf("RunSQLMaintenance() error = %v", err)
	}
}
