// Package security provides access-control support for the event pipeline:
// structured security audit logging and per-user rate limiting.
package security

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Audit event types. These names are stable identifiers for log-based
// alerting and must not be renamed casually.
const (
	EventBotStarted             = "BOT_STARTED"
	EventUnauthorizedChat       = "UNAUTHORIZED_CHAT_REACTION"
	EventUnauthorizedUser       = "UNAUTHORIZED_USER_REACTION"
	EventUnauthorizedMessage    = "UNAUTHORIZED_MESSAGE"
	EventRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	EventTriggerMessageNotFound = "TRIGGER_MESSAGE_NOT_FOUND"
	EventContextSent            = "CONTEXT_SENT"
	EventWebhookSuccess         = "WEBHOOK_SUCCESS"
	EventWebhookError           = "WEBHOOK_ERROR"
	EventWebhookException       = "WEBHOOK_EXCEPTION"
	EventWebhookNoSecret        = "WEBHOOK_NO_SECRET"
)

// AuditLog records security-relevant events as structured log entries.
// Every event carries a unique event id and a UTC timestamp; emitting an
// event never fails and never blocks request handling.
type AuditLog struct {
	logger *slog.Logger
}

// NewAuditLog creates an audit log writing through the given logger.
func NewAuditLog(logger *slog.Logger) *AuditLog {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &AuditLog{logger: logger.With("component", "security_audit")}
}

// LogEvent emits a single audit event. The details pairs are passed through
// as structured attributes alongside the generated event id and timestamp.
func (a *AuditLog) LogEvent(ctx context.Context, eventType string, details ...any) {
	attrs := make([]any, 0, len(details)+4)
	attrs = append(attrs,
		"event_id", uuid.NewString(),
		"event_type", eventType,
		"event_time", time.Now().UTC().Format(time.RFC3339),
	)
	attrs = append(attrs, details...)

	a.logger.WarnContext(ctx, "Security event", attrs...)
}

// LogInfo emits a non-suspicious audit event (startup, successful dispatch)
// at info level with the same structure as LogEvent.
func (a *AuditLog) LogInfo(ctx context.Context, eventType string, details ...any) {
	attrs := make([]any, 0, len(details)+4)
	attrs = append(attrs,
		"event_id", uuid.NewString(),
		"event_type", eventType,
		"event_time", time.Now().UTC().Format(time.RFC3339),
	)
	attrs = append(attrs, details...)

	a.logger.InfoContext(ctx, "Security event", attrs...)
}
