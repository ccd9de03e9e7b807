package history_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgard/issuebot/internal/config"
	"github.com/edgard/issuebot/internal/database"
	"github.com/edgard/issuebot/internal/history"
	"github.com/edgard/issuebot/internal/security"
)

func newTestBuffer(t *testing.T) *history.Buffer {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{Security: config.SecurityConfig{
		PrimaryChatID: -100123,
		ChatIDs:       []int64{-100123},
	}}

	return history.NewBuffer(cfg, database.NewStore(db, logger), security.NewAuditLog(logger), logger)
}

func TestAppendSkipsShortMessages(t *testing.T) {
	t.Parallel()

	buf := newTestBuffer(t)
	buf.Append(context.Background(), history.Message{ID: 1, ChatID: -100123, Text: "ok"})

	if got := buf.Len(); got != 0 {
		t.Errorf("Len() = %d after short message, want 0", got)
	}
}

func TestAppendSkipsNonWhitelistedChats(t *testing.T) {
	t.Parallel()

	buf := newTestBuffer(t)
	buf.Append(context.Background(), history.Message{ID: 1, ChatID: -100789, Text: "this chat is not allowed"})

	if got := buf.Len(); got != 0 {
		t.Errorf("Len() = %d for non-whitelisted chat, want 0", got)
	}
}

func TestAppendSanitizesText(t *testing.T) {
	t.Parallel()

	buf := newTestBuffer(t)
	buf.Append(context.Background(), history.Message{
		ID: 1, ChatID: -100123, UserID: 999,
		Text: "reach me at ops@example.com about the outage",
	})

	msg, ok := buf.Lookup(1)
	if !ok {
		t.Fatal("Lookup() did not find buffered message")
	}
	if msg.Text != "reach me at [EMAIL] about the outage" {
		t.Errorf("buffered text = %q, want sanitized text", msg.Text)
	}
}

func TestAppendDeduplicatesAcrossCalls(t *testing.T) {
	t.Parallel()

	buf := newTestBuffer(t)
	msg := history.Message{ID: 7, ChatID: -100123, Text: "the deploy failed on staging"}

	buf.Append(context.Background(), msg)
	buf.Append(context.Background(), msg)

	if got := buf.Len(); got != 1 {
		t.Errorf("Len() = %d after duplicate append, want 1", got)
	}
}

func TestContextWindowReturnsMostRecentAscending(t *testing.T) {
	t.Parallel()

	buf := newTestBuffer(t)
	for i := int64(1); i <= 5; i++ {
		buf.Append(context.Background(), history.Message{
			ID: i, ChatID: -100123, Text: "context message number padding",
		})
	}

	window := buf.ContextWindow(3)
	if len(window) != 3 {
		t.Fatalf("ContextWindow() returned %d messages, want 3", len(window))
	}
	for i, want := range []int64{3, 4, 5} {
		if window[i].ID != want {
			t.Errorf("window[%d].ID = %d, want %d", i, window[i].ID, want)
		}
	}
}

func TestContextWindowIsBounded(t *testing.T) {
	t.Parallel()

	buf := newTestBuffer(t)
	for i := int64(1); i <= 30; i++ {
		buf.Append(context.Background(), history.Message{
			ID: i, ChatID: -100123, Text: "context message number padding",
		})
	}

	window := buf.ContextWindow(25)
	if len(window) != 25 {
		t.Fatalf("ContextWindow() returned %d messages, want 25", len(window))
	}
	if window[0].ID != 6 || window[24].ID != 30 {
		t.Errorf("window spans ids %d..%d, want 6..30", window[0].ID, window[24].ID)
	}
}

func TestContextWindowOrdersByTimestampNotArrival(t *testing.T) {
	t.Parallel()

	buf := newTestBuffer(t)
	base := time.Now().UTC()

	// The newer message arrives first; concurrent handlers make this a
	// normal input, not an anomaly.
	buf.Append(context.Background(), history.Message{
		ID: 1, ChatID: -100123, Text: "second message by timestamp",
		Timestamp: base.Add(10 * time.Second),
	})
	buf.Append(context.Background(), history.Message{
		ID: 2, ChatID: -100123, Text: "first message by timestamp",
		Timestamp: base,
	})

	window := buf.ContextWindow(1)
	if len(window) != 1 || window[0].ID != 1 {
		t.Errorf("ContextWindow(1) = %+v, want most recent by timestamp (message 1)", window)
	}

	window = buf.ContextWindow(2)
	if len(window) != 2 {
		t.Fatalf("ContextWindow(2) returned %d messages, want 2", len(window))
	}
	if window[0].ID != 2 || window[1].ID != 1 {
		t.Errorf("ContextWindow(2) order = [%d, %d], want timestamp ascending [2, 1]",
			window[0].ID, window[1].ID)
	}
}

func TestAppendEvictsStaleMessageArrivingLate(t *testing.T) {
	t.Parallel()

	buf := newTestBuffer(t)

	// A stale message arriving after a fresh one must still be evicted;
	// eviction cannot rely on arrival order.
	buf.Append(context.Background(), history.Message{
		ID: 1, ChatID: -100123, Text: "fresh context from just now",
	})
	buf.Append(context.Background(), history.Message{
		ID: 2, ChatID: -100123, Text: "stale context from yesterday",
		Timestamp: time.Now().UTC().Add(-25 * time.Hour),
	})

	if got := buf.Len(); got != 1 {
		t.Fatalf("Len() = %d after late stale append, want 1", got)
	}
	if _, ok := buf.Lookup(2); ok {
		t.Error("Lookup() found stale message, want it evicted")
	}
	if _, ok := buf.Lookup(1); !ok {
		t.Error("Lookup() did not find fresh message")
	}
}

func TestAppendEvictsExpiredMessages(t *testing.T) {
	t.Parallel()

	buf := newTestBuffer(t)
	buf.Append(context.Background(), history.Message{
		ID: 1, ChatID: -100123, Text: "stale context from yesterday",
		Timestamp: time.Now().UTC().Add(-25 * time.Hour),
	})
	buf.Append(context.Background(), history.Message{
		ID: 2, ChatID: -100123, Text: "fresh context from just now",
	})

	if got := buf.Len(); got != 1 {
		t.Fatalf("Len() = %d after eviction, want 1", got)
	}
	if _, ok := buf.Lookup(1); ok {
		t.Error("Lookup() found expired message, want it evicted")
	}
	if _, ok := buf.Lookup(2); !ok {
		t.Error("Lookup() did not find fresh message")
	}
}
