package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"

	"github.com/edgard/issuebot/internal/history"
)

// Connector is the outbound surface the pipeline needs from the chat
// platform. Keeping it narrow lets tests substitute a fake without touching
// the network.
type Connector interface {
	// SendDirectMessage delivers a text notification to a user or chat.
	SendDirectMessage(ctx context.Context, chatID int64, text string) error

	// FetchMessage retrieves a message that is not in the local buffer.
	// Implementations that cannot fetch arbitrary history return (nil, nil)
	// and the caller treats the trigger message as unavailable.
	FetchMessage(ctx context.Context, chatID, messageID int64) (*history.Message, error)

	// ResolveChat verifies a configured chat id against the platform and
	// returns its canonical id.
	ResolveChat(ctx context.Context, chatID int64) (int64, error)
}

// NewTelegramBot creates a new Telegram bot instance using the go-telegram/bot library.
func NewTelegramBot(token string, logger *slog.Logger, opts ...bot.Option) (*bot.Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "telegram_bot")

	b, err := bot.New(token, opts...)
	if err != nil {
		log.Error("Failed to create Telegram bot instance", "error", err)
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	log.Info("Telegram bot instance created successfully", "token_prefix", token[:8]+"...")
	return b, nil
}

// botConnector implements Connector on top of a live Bot API client.
type botConnector struct {
	bot    *bot.Bot
	logger *slog.Logger
}

// NewConnector wraps a bot instance in the Connector interface.
func NewConnector(b *bot.Bot, logger *slog.Logger) Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &botConnector{bot: b, logger: logger.With("component", "telegram_connector")}
}

// SendDirectMessage delivers a plain-text message.
func (c *botConnector) SendDirectMessage(ctx context.Context, chatID int64, text string) error {
	_, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to send message", "chat_id", chatID, "error", err)
		return fmt.Errorf("failed to send message to chat %d: %w", chatID, err)
	}
	return nil
}

// FetchMessage always reports the message as unavailable: the Bot API offers
// no way to read arbitrary chat history, so the in-memory buffer is the only
// source of message content.
func (c *botConnector) FetchMessage(ctx context.Context, chatID, messageID int64) (*history.Message, error) {
	c.logger.DebugContext(ctx, "Message fetch not supported by platform",
		"chat_id", chatID, "message_id", messageID)
	return nil, nil
}

// ResolveChat asks the platform for the chat and returns the id it reports.
func (c *botConnector) ResolveChat(ctx context.Context, chatID int64) (int64, error) {
	chat, err := c.bot.GetChat(ctx, &bot.GetChatParams{ChatID: chatID})
	if err != nil {
		return 0, fmt.Errorf("failed to resolve chat %d: %w", chatID, err)
	}
	return chat.ID, nil
}
