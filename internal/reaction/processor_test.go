package reaction_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgard/issuebot/internal/config"
	"github.com/edgard/issuebot/internal/database"
	"github.com/edgard/issuebot/internal/reaction"
	"github.com/edgard/issuebot/internal/security"
	"github.com/edgard/issuebot/internal/telegram"
)

func newTestProcessor(t *testing.T, maxRequests int) *reaction.Processor {
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
		UserIDs:       []int64{999},
	}}

	return reaction.NewProcessor(
		cfg,
		database.NewStore(db, logger),
		security.NewAuditLog(logger),
		security.NewRateLimiter(maxRequests, 60*time.Second),
		logger,
	)
}

func thumbsUp(chatID, messageID, userID int64) telegram.ReactionUpdate {
	return telegram.ReactionUpdate{
		Peer:      telegram.PeerChat{ChatID: -chatID},
		MessageID: messageID,
		ActorID:   userID,
		Reactions: telegram.MessageReactions{
			Recent: []telegram.RecentReaction{{UserID: userID, Emoji: "👍"}},
		},
	}
}

func TestProcessEmitsTriggerOnce(t *testing.T) {
	t.Parallel()

	proc := newTestProcessor(t, 5)
	ctx := context.Background()
	update := thumbsUp(-100123, 55, 999)

	trigger, err := proc.Process(ctx, update)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if trigger == nil {
		t.Fatal("Process() trigger = nil, want trigger")
	}
	if trigger.ChatID != -100123 || trigger.MessageID != 55 || trigger.UserID != 999 {
		t.Errorf("trigger = %+v, want chat -100123, msg 55, user 999", trigger)
	}
	if trigger.DedupKey != "-100123_55_👍" {
		t.Errorf("DedupKey = %q, want %q", trigger.DedupKey, "-100123_55_👍")
	}

	// The identical update a second time is a silent no-op.
	trigger, err = proc.Process(ctx, update)
	if err != nil {
		t.Fatalf("Process() second call error = %v", err)
	}
	if trigger != nil {
		t.Errorf("Process() second call trigger = %+v, want nil", trigger)
	}
}

func TestProcessIgnoresOtherEmojis(t *testing.T) {
	t.Parallel()

	proc := newTestProcessor(t, 5)
	update := thumbsUp(-100123, 55, 999)
	update.Reactions.Recent[0].Emoji = "🔥"

	trigger, err := proc.Process(context.Background(), update)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if trigger != nil {
		t.Errorf("Process() trigger = %+v for non-trigger emoji, want nil", trigger)
	}
}

func TestProcessDeniesUnlistedChat(t *testing.T) {
	t.Parallel()

	proc := newTestProcessor(t, 5)

	trigger, err := proc.Process(context.Background(), thumbsUp(-100789, 55, 999))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if trigger != nil {
		t.Errorf("Process() trigger = %+v for unlisted chat, want nil", trigger)
	}
}

func TestProcessDeniesUnlistedUser(t *testing.T) {
	t.Parallel()

	proc := newTestProcessor(t, 5)

	trigger, err := proc.Process(context.Background(), thumbsUp(-100123, 55, 1000))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if trigger != nil {
		t.Errorf("Process() trigger = %+v for unlisted user, want nil", trigger)
	}
}

func TestProcessRateLimitsRepeatedTriggers(t *testing.T) {
	t.Parallel()

	proc := newTestProcessor(t, 2)
	ctx := context.Background()

	// Distinct messages so dedup never kicks in before the limiter.
	for msgID := int64(1); msgID <= 2; msgID++ {
		trigger, err := proc.Process(ctx, thumbsUp(-100123, msgID, 999))
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if trigger == nil {
			t.Fatalf("Process() trigger = nil for message %d, want trigger", msgID)
		}
	}

	trigger, err := proc.Process(ctx, thumbsUp(-100123, 3, 999))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if trigger != nil {
		t.Errorf("Process() trigger = %+v over rate limit, want nil", trigger)
	}
}

func TestProcessSurvivesRestartViaDurableMarkers(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{Security: config.SecurityConfig{
		ChatIDs: []int64{-100123},
		UserIDs: []int64{999},
	}}

	newProc := func() (*reaction.Processor, func()) {
		db, err := database.NewDB(dbPath)
		if err != nil {
			t.Fatalf("NewDB() error = %v", err)
		}
		proc := reaction.NewProcessor(cfg, database.NewStore(db, logger),
			security.NewAuditLog(logger), security.NewRateLimiter(5, 60*time.Second), logger)
		return proc, func() { database.CloseDB(db) }
	}

	proc, closeDB := newProc()
	trigger, err := proc.Process(context.Background(), thumbsUp(-100123, 55, 999))
	if err != nil || trigger == nil {
		t.Fatalf("Process() = %+v, %v; want trigger", trigger, err)
	}
	closeDB()

	// A fresh processor with an empty in-memory set must still dedup.
	proc, closeDB = newProc()
	defer closeDB()
	trigger, err = proc.Process(context.Background(), thumbsUp(-100123, 55, 999))
	if err != nil {
		t.Fatalf("Process() after restart error = %v", err)
	}
	if trigger != nil {
		t.Errorf("Process() after restart trigger = %+v, want nil", trigger)
	}
}
