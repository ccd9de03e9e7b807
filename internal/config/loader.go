package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Default values for optional configuration parameters.
const (
	DefaultLogLevel      = "info"
	DefaultLogJSON       = true
	DefaultDBPath        = "bot_state.db"
	DefaultRetentionDays = 30

	DefaultMaxContextMessages = 25
	DefaultRateLimitRequests  = 5
	DefaultRateLimitWindow    = 60 * time.Second
	DefaultAnonymizeUsernames = true

	// Daily retention prune, weekly VACUUM (cron with seconds field).
	DefaultRetentionSchedule   = "0 0 4 * * *"
	DefaultMaintenanceSchedule = "0 30 4 * * 0"

	DefaultDispatchSuccessMsg = "✅ Issue sent to Linear! Thanks for flagging this."
	DefaultDispatchFailureMsg = "❌ No issue found or failed to process. Please try again or check the context."
)

// LoadConfig loads and validates configuration from:
//  1. Default values
//  2. The YAML file at configPath (optional)
//  3. BOT_* environment variables
//
// All returned errors wrap ErrConfiguration and are fatal at startup.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, everything can come from env.
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("%w: failed to read config file %s: %v", ErrConfiguration, configPath, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	chatIDs, err := parseWhitelist(cfg.Security.WhitelistedChats)
	if err != nil {
		return nil, fmt.Errorf("%w: whitelisted_chats: %v", ErrConfiguration, err)
	}
	userIDs, err := parseWhitelist(cfg.Security.WhitelistedUsers)
	if err != nil {
		return nil, fmt.Errorf("%w: whitelisted_users: %v", ErrConfiguration, err)
	}
	cfg.Security.ChatIDs = chatIDs
	cfg.Security.UserIDs = userIDs

	// The primary chat is always part of the whitelist when one is configured.
	if cfg.Security.PrimaryChatID != 0 && len(cfg.Security.ChatIDs) > 0 {
		found := false
		for _, id := range cfg.Security.ChatIDs {
			if id == cfg.Security.PrimaryChatID {
				found = true
				break
			}
		}
		if !found {
			cfg.Security.ChatIDs = append(cfg.Security.ChatIDs, cfg.Security.PrimaryChatID)
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	// Signed dispatch is mandatory whenever an endpoint is configured.
	if cfg.Webhook.URL != "" && cfg.Webhook.Secret == "" {
		return nil, fmt.Errorf("%w: webhook.secret is required when webhook.url is configured", ErrConfiguration)
	}

	return cfg, nil
}

// parseWhitelist converts raw whitelist entries (possibly comma-separated)
// into numeric ids. Malformed entries are a configuration error rather than
// being silently skipped.
func parseWhitelist(entries []string) ([]int64, error) {
	var ids []int64
	for _, entry := range entries {
		for _, part := range strings.Split(entry, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid numeric id %q", part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.json", DefaultLogJSON)

	v.SetDefault("database.path", DefaultDBPath)
	v.SetDefault("database.retention_days", DefaultRetentionDays)

	v.SetDefault("security.max_context_messages", DefaultMaxContextMessages)
	v.SetDefault("security.rate_limit_requests", DefaultRateLimitRequests)
	v.SetDefault("security.rate_limit_window", DefaultRateLimitWindow)
	v.SetDefault("security.anonymize_usernames", DefaultAnonymizeUsernames)

	v.SetDefault("scheduler.tasks", map[string]any{
		"retention_prune": map[string]any{"enabled": true, "schedule": DefaultRetentionSchedule},
		"sql_maintenance": map[string]any{"enabled": true, "schedule": DefaultMaintenanceSchedule},
	})

	v.SetDefault("messages.dispatch_success", DefaultDispatchSuccessMsg)
	v.SetDefault("messages.dispatch_failure", DefaultDispatchFailureMsg)
}
