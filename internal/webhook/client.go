// Package webhook dispatches sanitized conversation context to the external
// processing endpoint, authenticated with an HMAC signature over the exact
// request body.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/edgard/issuebot/internal/config"
	"github.com/edgard/issuebot/internal/history"
	"github.com/edgard/issuebot/internal/security"
)

const (
	payloadSource   = "telegram"
	payloadType     = "issue_analysis_request"
	securityVersion = "1.0"
	userAgent       = "issuebot/1.0"

	requestTimeout = 30 * time.Second
)

// payloadMessage is one message as it appears on the wire.
type payloadMessage struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
	UserID    int64  `json:"user_id"`
	ChatID    int64  `json:"chat_id"`
}

// Payload is the dispatch request body.
type Payload struct {
	Source          string           `json:"source"`
	Type            string           `json:"type"`
	ChatID          int64            `json:"chat_id"`
	TriggerUser     string           `json:"trigger_user"`
	TriggerUserID   int64            `json:"trigger_user_id"`
	Timestamp       string           `json:"timestamp"`
	TriggerMessage  payloadMessage   `json:"trigger_message"`
	ContextMessages []payloadMessage `json:"context_messages"`
	SecurityVersion string           `json:"security_version"`
}

// Client sends context dispatches. With no URL configured it runs in
// dry-run mode: dispatches are logged as successful without any network
// traffic.
type Client struct {
	url        string
	secret     string
	httpClient *http.Client
	audit      *security.AuditLog
	logger     *slog.Logger

	now func() time.Time
}

// NewClient creates a dispatch client from the webhook configuration.
func NewClient(cfg config.WebhookConfig, audit *security.AuditLog, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		url:        cfg.URL,
		secret:     cfg.Secret,
		httpClient: &http.Client{Timeout: requestTimeout},
		audit:      audit,
		logger:     logger.With("component", "webhook"),
		now:        time.Now,
	}
}

// Signature computes the hex HMAC-SHA256 of the body under the secret. The
// receiver must verify against the exact bytes it received.
func Signature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SendContext dispatches the trigger message plus its surrounding context.
// The request is made exactly once; retrying is left to the human who
// reacted, since the reaction marker already prevents double dispatch.
func (c *Client) SendContext(ctx context.Context, trigger history.Message, contextMsgs []history.Message, triggerUserID int64) error {
	if c.url == "" {
		c.logger.InfoContext(ctx, "No webhook configured, dry-run dispatch",
			"chat_id", trigger.ChatID,
			"trigger_message_id", trigger.ID,
			"context_size", len(contextMsgs))
		return nil
	}

	if c.secret == "" {
		c.audit.LogEvent(ctx, security.EventWebhookNoSecret,
			"chat_id", trigger.ChatID, "trigger_message_id", trigger.ID)
		return fmt.Errorf("webhook secret not configured")
	}

	payload := c.buildPayload(trigger, contextMsgs, triggerUserID)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode dispatch payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Webhook-Signature", "sha256="+Signature(c.secret, body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.audit.LogEvent(ctx, security.EventWebhookException,
			"chat_id", trigger.ChatID, "trigger_message_id", trigger.ID, "error", err.Error())
		return fmt.Errorf("dispatch request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		c.audit.LogEvent(ctx, security.EventWebhookError,
			"chat_id", trigger.ChatID, "trigger_message_id", trigger.ID, "status", resp.StatusCode)
		return fmt.Errorf("dispatch rejected with status %d", resp.StatusCode)
	}

	c.logger.InfoContext(ctx, "Context dispatched",
		"chat_id", trigger.ChatID,
		"trigger_message_id", trigger.ID,
		"context_size", len(contextMsgs))
	c.audit.LogInfo(ctx, security.EventWebhookSuccess,
		"chat_id", trigger.ChatID, "trigger_message_id", trigger.ID)
	return nil
}

func (c *Client) buildPayload(trigger history.Message, contextMsgs []history.Message, triggerUserID int64) Payload {
	payload := Payload{
		Source:          payloadSource,
		Type:            payloadType,
		ChatID:          trigger.ChatID,
		TriggerUser:     trigger.Username,
		TriggerUserID:   triggerUserID,
		Timestamp:       c.now().UTC().Format(time.RFC3339),
		TriggerMessage:  toPayloadMessage(trigger),
		ContextMessages: make([]payloadMessage, 0, len(contextMsgs)),
		SecurityVersion: securityVersion,
	}
	for _, msg := range contextMsgs {
		payload.ContextMessages = append(payload.ContextMessages, toPayloadMessage(msg))
	}
	return payload
}

func toPayloadMessage(msg history.Message) payloadMessage {
	return payloadMessage{
		ID:        msg.ID,
		Text:      msg.Text,
		Username:  msg.Username,
		Timestamp: msg.Timestamp.UTC().Format(time.RFC3339),
		UserID:    msg.UserID,
		ChatID:    msg.ChatID,
	}
}
