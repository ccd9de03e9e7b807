// Package config provides configuration loading, validation, and management
// for the issuebot application. It handles reading from YAML files and BOT_*
// environment variables, setting default values, and validating parameters.
package config

import (
	"errors"
	"time"
)

// ErrConfiguration marks fatal configuration problems detected at startup.
var ErrConfiguration = errors.New("configuration error")

// Config defines the application configuration parameters for all components
// of the issuebot system. Loaded once at startup and treated as immutable for
// the process lifetime; reconciliation produces a new snapshot instead of
// mutating a live one.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Security  SecurityConfig  `mapstructure:"security"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Messages  MessagesConfig  `mapstructure:"messages"`
}

// LoggerConfig controls structured logging output.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig controls the durable marker store.
type DatabaseConfig struct {
	Path          string `mapstructure:"path"           validate:"required"`
	RetentionDays int    `mapstructure:"retention_days" validate:"min=1"`
}

// TelegramConfig holds chat platform credentials.
type TelegramConfig struct {
	Token string `mapstructure:"token" validate:"required"`
}

// SecurityConfig holds the access-control and anti-abuse settings.
//
// WhitelistedChats and WhitelistedUsers are read as strings so that malformed
// numeric entries can be reported as configuration errors instead of being
// silently coerced; the parsed values live in ChatIDs and UserIDs.
type SecurityConfig struct {
	PrimaryChatID      int64         `mapstructure:"primary_chat_id"`
	WhitelistedChats   []string      `mapstructure:"whitelisted_chats"`
	WhitelistedUsers   []string      `mapstructure:"whitelisted_users"`
	MaxContextMessages int           `mapstructure:"max_context_messages" validate:"min=1,max=100"`
	RateLimitRequests  int           `mapstructure:"rate_limit_requests"  validate:"min=1"`
	RateLimitWindow    time.Duration `mapstructure:"rate_limit_window"    validate:"min=1s"`
	AnonymizeUsernames bool          `mapstructure:"anonymize_usernames"`

	// Parsed whitelists, populated by Load.
	ChatIDs []int64 `mapstructure:"-"`
	UserIDs []int64 `mapstructure:"-"`
}

// WebhookConfig describes the outbound dispatch endpoint. An empty URL puts
// the dispatcher in dry-run mode.
type WebhookConfig struct {
	URL    string `mapstructure:"url"    validate:"omitempty,url"`
	Secret string `mapstructure:"secret"`
}

// SchedulerConfig holds the set of scheduled maintenance tasks, keyed by task name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig enables a single scheduled task with a cron expression
// (optional seconds field supported).
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// MessagesConfig holds user-visible notification texts.
type MessagesConfig struct {
	DispatchSuccess string `mapstructure:"dispatch_success" validate:"required"`
	DispatchFailure string `mapstructure:"dispatch_failure" validate:"required"`
}

// IsChatWhitelisted reports whether a chat may be processed. When no chat
// whitelist is configured, only the primary chat is allowed.
func (c *Config) IsChatWhitelisted(chatID int64) bool {
	if len(c.Security.ChatIDs) == 0 {
		return c.Security.PrimaryChatID != 0 && chatID == c.Security.PrimaryChatID
	}
	for _, id := range c.Security.ChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

// IsUserWhitelisted reports whether a user may trigger dispatch. An empty
// user whitelist denies every user.
func (c *Config) IsUserWhitelisted(userID int64) bool {
	for _, id := range c.Security.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// WithReconciledChats returns a new configuration snapshot whose chat
// whitelist entries have been replaced according to the resolved mapping
// (configured id -> platform-verified id). The receiver is never mutated;
// request handling always sees a consistent snapshot.
func (c *Config) WithReconciledChats(resolved map[int64]int64) *Config {
	next := *c

	next.Security.ChatIDs = make([]int64, 0, len(c.Security.ChatIDs))
	seen := make(map[int64]bool, len(c.Security.ChatIDs))
	for _, id := range c.Security.ChatIDs {
		if verified, ok := resolved[id]; ok {
			id = verified
		}
		if !seen[id] {
			next.Security.ChatIDs = append(next.Security.ChatIDs, id)
			seen[id] = true
		}
	}

	if verified, ok := resolved[c.Security.PrimaryChatID]; ok {
		next.Security.PrimaryChatID = verified
	}

	return &next
}
