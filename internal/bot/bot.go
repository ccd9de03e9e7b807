// Package bot implements the core pipeline wiring, lifecycle management,
// and update handling for the issuebot Telegram bot.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/issuebot/internal/config"
	"github.com/edgard/issuebot/internal/database"
	"github.com/edgard/issuebot/internal/history"
	"github.com/edgard/issuebot/internal/reaction"
	"github.com/edgard/issuebot/internal/security"
	"github.com/edgard/issuebot/internal/telegram"
)

// Dispatcher sends a trigger message and its context downstream.
type Dispatcher interface {
	SendContext(ctx context.Context, trigger history.Message, contextMsgs []history.Message, triggerUserID int64) error
}

// Bot represents the main application and manages its components' lifecycle.
type Bot struct {
	logger     *slog.Logger
	cfg        *config.Config
	db         *sqlx.DB
	store      database.Store
	buffer     *history.Buffer
	processor  *reaction.Processor
	dispatcher Dispatcher
	connector  telegram.Connector
	audit      *security.AuditLog
	tgBot      *tgbot.Bot
	scheduler  *Scheduler
}

// NewBot creates a new instance of the bot with all required dependencies.
func NewBot(
	logger *slog.Logger,
	cfg *config.Config,
	db *sqlx.DB,
	store database.Store,
	buffer *history.Buffer,
	processor *reaction.Processor,
	dispatcher Dispatcher,
	connector telegram.Connector,
	audit *security.AuditLog,
	tgBot *tgbot.Bot,
	scheduler *Scheduler,
) *Bot {
	return &Bot{
		logger:     logger.With("component", "bot_orchestrator"),
		cfg:        cfg,
		db:         db,
		store:      store,
		buffer:     buffer,
		processor:  processor,
		dispatcher: dispatcher,
		connector:  connector,
		audit:      audit,
		tgBot:      tgBot,
		scheduler:  scheduler,
	}
}

// Run starts the bot and all its components, handling graceful shutdown on
// context cancellation.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...")
	b.audit.LogInfo(ctx, security.EventBotStarted,
		"primary_chat_id", b.cfg.Security.PrimaryChatID,
		"whitelisted_chats", len(b.cfg.Security.ChatIDs),
		"whitelisted_users", len(b.cfg.Security.UserIDs))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.logger.Info("Starting Telegram bot listener...")

		b.tgBot.Start(gCtx)
		b.logger.Info("Telegram bot listener stopped.")

		if gCtx.Err() == nil {
			b.logger.Warn("Telegram bot listener stopped unexpectedly without context cancellation.")
			return fmt.Errorf("telegram listener stopped unexpectedly")
		}
		return nil
	})

	g.Go(func() error {
		b.logger.Info("Starting scheduler...")
		if err := b.scheduler.Start(); err != nil {
			b.logger.Error("Failed to start scheduler", "error", err)
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, stopping scheduler...")

		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}

		return nil
	})

	b.logger.Info("Bot orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}

// HandleUpdate routes incoming updates to the message or reaction path.
// Registered as the default handler so both update kinds flow through it.
func (b *Bot) HandleUpdate(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	switch {
	case update.Message != nil:
		b.HandleMessage(ctx, update.Message)
	case update.MessageReaction != nil:
		b.HandleReaction(ctx, update.MessageReaction)
	}
}

// HandleMessage feeds an incoming chat message into the context buffer.
func (b *Bot) HandleMessage(ctx context.Context, msg *models.Message) {
	entry := history.Message{
		ID:        int64(msg.ID),
		ChatID:    msg.Chat.ID,
		Text:      msg.Text,
		Timestamp: time.Unix(int64(msg.Date), 0).UTC(),
	}
	if msg.From != nil {
		entry.UserID = msg.From.ID
		entry.Username = msg.From.Username
		if entry.Username == "" {
			entry.Username = msg.From.FirstName
		}
	}

	b.buffer.Append(ctx, entry)
}

// HandleReaction runs a reaction update through the gate chain and, when it
// produces a trigger, dispatches the surrounding context.
func (b *Bot) HandleReaction(ctx context.Context, update *models.MessageReactionUpdated) {
	trigger, err := b.processor.Process(ctx, telegram.FromBotUpdate(update))
	if err != nil {
		b.logger.ErrorContext(ctx, "Reaction processing failed",
			"chat_id", update.Chat.ID, "message_id", update.MessageID, "error", err)
		return
	}
	if trigger == nil {
		return
	}

	b.dispatchTrigger(ctx, trigger)
}

// dispatchTrigger resolves the trigger message, assembles the context
// window, and sends it downstream, notifying the reacting user either way.
func (b *Bot) dispatchTrigger(ctx context.Context, trigger *reaction.Trigger) {
	log := b.logger.With("chat_id", trigger.ChatID, "message_id", trigger.MessageID, "user_id", trigger.UserID)

	triggerMsg, found := b.buffer.Lookup(trigger.MessageID)
	if !found {
		fetched, err := b.connector.FetchMessage(ctx, trigger.ChatID, trigger.MessageID)
		if err != nil {
			log.WarnContext(ctx, "Failed to fetch trigger message", "error", err)
		}
		if fetched == nil {
			b.audit.LogEvent(ctx, security.EventTriggerMessageNotFound,
				"chat_id", trigger.ChatID, "message_id", trigger.MessageID, "user_id", trigger.UserID)
			b.notify(ctx, trigger.UserID, b.cfg.Messages.DispatchFailure)
			return
		}
		triggerMsg = *fetched
	}

	contextMsgs := b.buffer.ContextWindow(b.cfg.Security.MaxContextMessages)

	if err := b.dispatcher.SendContext(ctx, triggerMsg, contextMsgs, trigger.UserID); err != nil {
		log.ErrorContext(ctx, "Context dispatch failed", "error", err)
		b.notify(ctx, trigger.UserID, b.cfg.Messages.DispatchFailure)
		return
	}

	b.audit.LogInfo(ctx, security.EventContextSent,
		"chat_id", trigger.ChatID, "message_id", trigger.MessageID,
		"user_id", trigger.UserID, "context_size", len(contextMsgs))
	b.notify(ctx, trigger.UserID, b.cfg.Messages.DispatchSuccess)

	stateKey := fmt.Sprintf("last_processed_%d", trigger.ChatID)
	if err := b.store.SetState(ctx, stateKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		log.WarnContext(ctx, "Failed to record last processed state", "error", err)
	}
}

// notify sends a status message to the reacting user. Delivery failures are
// logged only; the dispatch outcome already stands.
func (b *Bot) notify(ctx context.Context, userID int64, text string) {
	if err := b.connector.SendDirectMessage(ctx, userID, text); err != nil {
		b.logger.WarnContext(ctx, "Failed to deliver notification", "user_id", userID, "error", err)
	}
}

// ReconcileChats verifies each configured chat id against the platform and
// returns a new configuration snapshot with the verified ids. A configured
// id that fails to resolve is retried with its sign flipped, since group ids
// are often configured positive where the platform reports them negative.
// Chats that cannot be resolved either way keep their configured id;
// startup proceeds regardless.
func ReconcileChats(ctx context.Context, cfg *config.Config, connector telegram.Connector, logger *slog.Logger) *config.Config {
	resolved := make(map[int64]int64)

	ids := cfg.Security.ChatIDs
	if len(ids) == 0 && cfg.Security.PrimaryChatID != 0 {
		ids = []int64{cfg.Security.PrimaryChatID}
	}

	for _, id := range ids {
		verified, err := connector.ResolveChat(ctx, id)
		if err != nil {
			flippedVerified, flippedErr := connector.ResolveChat(ctx, -id)
			if flippedErr != nil {
				logger.WarnContext(ctx, "Could not verify configured chat, keeping configured id",
					"chat_id", id, "error", err, "sign_flipped_error", flippedErr)
				continue
			}
			logger.InfoContext(ctx, "Chat id reconciled via sign-flipped id",
				"configured", id, "verified", flippedVerified)
			resolved[id] = flippedVerified
			continue
		}
		if verified != id {
			logger.InfoContext(ctx, "Chat id reconciled", "configured", id, "verified", verified)
		}
		resolved[id] = verified
	}

	return cfg.WithReconciledChats(resolved)
}
