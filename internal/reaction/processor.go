// Package reaction decides whether a reaction update triggers a context
// dispatch. It runs the security gates (whitelists, rate limit) and both
// deduplication layers before emitting a trigger.
package reaction

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/edgard/issuebot/internal/config"
	"github.com/edgard/issuebot/internal/database"
	"github.com/edgard/issuebot/internal/security"
	"github.com/edgard/issuebot/internal/telegram"
)

// TriggerEmoji is the reaction that requests a dispatch.
const TriggerEmoji = "👍"

// In-memory dedup set bounds. When the set reaches memoryCap it is truncated
// to the most recent memoryKeep keys; the durable store still covers the
// truncated ones.
const (
	memoryCap  = 1000
	memoryKeep = 500
)

// Trigger is an admitted dispatch request.
type Trigger struct {
	ChatID    int64
	MessageID int64
	UserID    int64
	DedupKey  string
}

// Processor runs reaction updates through the gate chain. Safe for
// concurrent use.
type Processor struct {
	cfg     *config.Config
	store   database.Store
	audit   *security.AuditLog
	limiter *security.RateLimiter
	logger  *slog.Logger

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// NewProcessor creates a reaction processor.
func NewProcessor(cfg *config.Config, store database.Store, audit *security.AuditLog, limiter *security.RateLimiter, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Processor{
		cfg:     cfg,
		store:   store,
		audit:   audit,
		limiter: limiter,
		logger:  logger.With("component", "reaction_processor"),
		seen:    make(map[string]struct{}),
	}
}

// DedupKey builds the stable deduplication key for one reaction.
func DedupKey(chatID, messageID int64, emoji string) string {
	return fmt.Sprintf("%d_%d_%s", chatID, messageID, emoji)
}

// Process evaluates a reaction update and returns a non-nil Trigger when a
// dispatch should happen. Denials (wrong emoji, whitelist, rate limit,
// duplicate) return (nil, nil); they are expected traffic, not errors. A
// storage failure returns an error and no trigger, so an unavailable store
// can never cause a duplicate dispatch.
func (p *Processor) Process(ctx context.Context, update telegram.ReactionUpdate) (*Trigger, error) {
	chatID := update.Peer.ResolveChatID()

	if !p.cfg.IsChatWhitelisted(chatID) {
		p.audit.LogEvent(ctx, security.EventUnauthorizedChat,
			"chat_id", chatID, "message_id", update.MessageID)
		return nil, nil
	}

	if update.MessageID == 0 || !p.hasTriggerEmoji(update) {
		return nil, nil
	}

	key := DedupKey(chatID, update.MessageID, TriggerEmoji)

	processed, err := p.store.IsReactionProcessed(ctx, key)
	if err != nil {
		p.logger.ErrorContext(ctx, "Dedup check failed, refusing to dispatch",
			"reaction_key", key, "error", err)
		return nil, err
	}
	if processed {
		p.logger.DebugContext(ctx, "Reaction already processed (durable)", "reaction_key", key)
		return nil, nil
	}
	if p.inMemory(key) {
		p.logger.DebugContext(ctx, "Reaction already processed (memory)", "reaction_key", key)
		return nil, nil
	}

	// Attribution comes from the recent reactions; an anonymous trigger
	// can never pass the user whitelist, so it ends here.
	actorID, attributed := p.findActor(update)
	if !attributed {
		p.logger.DebugContext(ctx, "Trigger reaction without attributable user",
			"chat_id", chatID, "message_id", update.MessageID)
		return nil, nil
	}

	if !p.cfg.IsUserWhitelisted(actorID) {
		p.audit.LogEvent(ctx, security.EventUnauthorizedUser,
			"chat_id", chatID, "user_id", actorID, "message_id", update.MessageID)
		return nil, nil
	}

	if !p.limiter.Allow(actorID) {
		p.audit.LogEvent(ctx, security.EventRateLimitExceeded,
			"chat_id", chatID, "user_id", actorID, "message_id", update.MessageID)
		return nil, nil
	}

	p.admitToMemory(key)

	marker := &database.ProcessedReaction{
		ReactionKey:   key,
		ChatID:        chatID,
		MessageID:     update.MessageID,
		UserID:        sql.NullInt64{Int64: actorID, Valid: actorID != 0},
		ReactionEmoji: TriggerEmoji,
	}
	if err := p.store.MarkReactionProcessed(ctx, marker); err != nil {
		p.logger.ErrorContext(ctx, "Failed to persist reaction marker, refusing to dispatch",
			"reaction_key", key, "error", err)
		return nil, err
	}

	return &Trigger{
		ChatID:    chatID,
		MessageID: update.MessageID,
		UserID:    actorID,
		DedupKey:  key,
	}, nil
}

// hasTriggerEmoji reports whether the trigger emoji appears anywhere in the
// update, aggregate counts or recent entries.
func (p *Processor) hasTriggerEmoji(update telegram.ReactionUpdate) bool {
	for _, result := range update.Reactions.Results {
		if result.Emoji == TriggerEmoji {
			return true
		}
	}
	for _, recent := range update.Reactions.Recent {
		if recent.Emoji == TriggerEmoji {
			return true
		}
	}
	return false
}

// findActor returns the user behind the trigger reaction, taken from the
// recent reaction entries.
func (p *Processor) findActor(update telegram.ReactionUpdate) (int64, bool) {
	for _, recent := range update.Reactions.Recent {
		if recent.Emoji == TriggerEmoji && recent.UserID != 0 {
			return recent.UserID, true
		}
	}
	return 0, false
}

// inMemory reports whether the key is already in the in-memory set.
func (p *Processor) inMemory(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.seen[key]
	return ok
}

// admitToMemory records the key in the in-memory set. The set is bounded;
// overflow keeps only the most recent half.
func (p *Processor) admitToMemory(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.seen[key]; ok {
		return
	}

	p.seen[key] = struct{}{}
	p.order = append(p.order, key)

	if len(p.order) >= memoryCap {
		drop := p.order[:len(p.order)-memoryKeep]
		for _, old := range drop {
			delete(p.seen, old)
		}
		p.order = append([]string(nil), p.order[len(p.order)-memoryKeep:]...)
	}
}
