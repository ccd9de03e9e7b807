// Package history maintains the in-memory conversational context buffer.
// Messages from whitelisted chats are sanitized and retained for a rolling
// window so that a reaction trigger can ship recent context downstream.
package history

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/edgard/issuebot/internal/config"
	"github.com/edgard/issuebot/internal/database"
	"github.com/edgard/issuebot/internal/security"
	"github.com/edgard/issuebot/internal/text"
)

// Messages shorter than this carry no useful context and are not buffered.
const minMessageLength = 10

// retentionWindow is how long a message stays available as context.
const retentionWindow = 24 * time.Hour

// Message is a single buffered chat message, already sanitized.
type Message struct {
	ID        int64
	ChatID    int64
	UserID    int64
	Username  string
	Text      string
	Timestamp time.Time
}

// Buffer holds the recent messages of all whitelisted chats as one ordered
// sequence, bounding memory per process rather than per chat. All methods
// are safe for concurrent use. The durable store is consulted so that a
// restart does not re-buffer messages the previous process already handled.
type Buffer struct {
	mu       sync.Mutex
	messages []Message

	cfg    *config.Config
	store  database.Store
	audit  *security.AuditLog
	logger *slog.Logger

	now func() time.Time
}

// NewBuffer creates an empty context buffer.
func NewBuffer(cfg *config.Config, store database.Store, audit *security.AuditLog, logger *slog.Logger) *Buffer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Buffer{
		cfg:    cfg,
		store:  store,
		audit:  audit,
		logger: logger.With("component", "history"),
		now:    time.Now,
	}
}

// Append buffers an incoming message after passing it through the intake
// gates: minimum length, chat whitelist, and durable dedup. Sanitization and
// username anonymization happen before the message is stored. Storage
// failures never drop the message from the buffer; losing context is worse
// than occasionally re-buffering one message.
func (b *Buffer) Append(ctx context.Context, msg Message) {
	if len(msg.Text) < minMessageLength {
		return
	}

	if !b.cfg.IsChatWhitelisted(msg.ChatID) {
		b.audit.LogEvent(ctx, security.EventUnauthorizedMessage,
			"chat_id", msg.ChatID, "user_id", msg.UserID, "message_id", msg.ID)
		return
	}

	processed, err := b.store.IsMessageProcessed(ctx, msg.ID, msg.ChatID)
	if err != nil {
		b.logger.WarnContext(ctx, "Dedup check failed, buffering anyway",
			"chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
	} else if processed {
		b.logger.DebugContext(ctx, "Skipping already-processed message",
			"chat_id", msg.ChatID, "message_id", msg.ID)
		return
	}

	msg.Text = text.Sanitize(msg.Text)
	msg.Username = text.AnonymizeUsername(msg.Username, b.cfg.Security.AnonymizeUsernames)
	if msg.Timestamp.IsZero() {
		msg.Timestamp = b.now().UTC()
	}

	b.mu.Lock()
	b.messages = append(b.messages, msg)
	b.mu.Unlock()

	marker := &database.ProcessedMessage{
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		UserID:    sql.NullInt64{Int64: msg.UserID, Valid: msg.UserID != 0},
		Timestamp: msg.Timestamp,
	}
	if err := b.store.MarkMessageProcessed(ctx, marker); err != nil {
		b.logger.ErrorContext(ctx, "Failed to persist message marker",
			"chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
	}

	b.evictExpired()
}

// ContextWindow returns up to maxMessages of the most recent buffered
// messages by timestamp, oldest first. Arrival order is not trusted:
// concurrent handlers may append out of order. The returned slice is a copy.
func (b *Buffer) ContextWindow(maxMessages int) []Message {
	b.mu.Lock()
	ordered := make([]Message, len(b.messages))
	copy(ordered, b.messages)
	b.mu.Unlock()

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	if len(ordered) > maxMessages {
		ordered = ordered[len(ordered)-maxMessages:]
	}
	return ordered
}

// Lookup finds a buffered message by id. Linear scan; the buffer is bounded
// by its retention window.
func (b *Buffer) Lookup(messageID int64) (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, msg := range b.messages {
		if msg.ID == messageID {
			return msg, true
		}
	}
	return Message{}, false
}

// Len reports how many messages are currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// evictExpired drops messages older than the retention window. The whole
// slice is filtered because arrival order does not guarantee timestamp
// order.
func (b *Buffer) evictExpired() {
	cutoff := b.now().Add(-retentionWindow)

	b.mu.Lock()
	defer b.mu.Unlock()

	live := b.messages[:0]
	for _, msg := range b.messages {
		if msg.Timestamp.After(cutoff) {
			live = append(live, msg)
		}
	}
	b.messages = live
}
