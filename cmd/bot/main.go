// Package main contains the entrypoint for the issuebot application.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/joho/godotenv"

	"github.com/edgard/issuebot/internal/bot"
	"github.com/edgard/issuebot/internal/bot/tasks"
	"github.com/edgard/issuebot/internal/config"
	"github.com/edgard/issuebot/internal/database"
	"github.com/edgard/issuebot/internal/history"
	"github.com/edgard/issuebot/internal/logger"
	"github.com/edgard/issuebot/internal/reaction"
	"github.com/edgard/issuebot/internal/security"
	"github.com/edgard/issuebot/internal/telegram"
	"github.com/edgard/issuebot/internal/webhook"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes and starts all application components, handles graceful
// shutdown, and returns an exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	// A local .env file is a convenience for development; absence is fine.
	_ = godotenv.Load()

	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	if stats, statsErr := store.GetStats(ctx); statsErr != nil {
		log.Warn("Failed to read store statistics", "error", statsErr)
	} else {
		log.Info("Store statistics",
			"processed_messages", stats.ProcessedMessages,
			"processed_reactions", stats.ProcessedReactions,
			"state_entries", stats.StateEntries,
			"database_size_bytes", stats.DatabaseSizeBytes)
	}

	audit := security.NewAuditLog(log)

	// The default handler closes over the app pointer; it is set before
	// the listener starts receiving updates.
	var app *bot.Bot
	botOpts := []tgbot.Option{
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithAllowedUpdates(tgbot.AllowedUpdates{"message", "message_reaction"}),
		// Slow dispatches must not stall message ingestion.
		tgbot.WithWorkers(4),
		tgbot.WithDefaultHandler(func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			if app != nil {
				app.HandleUpdate(ctx, b, update)
			}
		}),
	}
	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log, botOpts...)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}

	me, err := tg.GetMe(ctx)
	if err != nil {
		log.Error("Failed to get bot info", "error", err)
		return 1
	}
	log.Info("Retrieved bot info", "bot_id", me.ID, "bot_username", me.Username)

	connector := telegram.NewConnector(tg, log)

	// Verify configured chats against the platform and work from the
	// reconciled snapshot for the rest of the process lifetime.
	cfg = bot.ReconcileChats(ctx, cfg, connector, log)

	buffer := history.NewBuffer(cfg, store, audit, log)
	limiter := security.NewRateLimiter(cfg.Security.RateLimitRequests, cfg.Security.RateLimitWindow)
	processor := reaction.NewProcessor(cfg, store, audit, limiter, log)
	dispatcher := webhook.NewClient(cfg.Webhook, audit, log)

	tDeps := tasks.TaskDeps{
		Logger: log,
		Store:  store,
		Config: cfg,
	}
	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	app = bot.NewBot(log, cfg, db, store, buffer, processor, dispatcher, connector, audit, tg, sched)

	log.Info("Starting bot...")
	runErr := app.Run(ctx)
	log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
