// Package notify delivers queued notification intents to the push gateway.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/habitroyale/habit-engine/internal/config"
	"github.com/habitroyale/habit-engine/pkg/logger"
)

// ErrDisabled is returned by a sender that is switched off.
var ErrDisabled = errors.New("push delivery disabled")

// Notification is the visible part of a push message.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Message is one push message addressed to a device token.
type Message struct {
	Token        string            `json:"token"`
	Notification Notification      `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

// Sender delivers push messages.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// PushClient posts messages to an HTTP push gateway.
type PushClient struct {
	endpoint   string
	apiKey     string
	enabled    bool
	httpClient *http.Client
	log        *logger.Logger
}

// NewPushClient creates a new push gateway client.
func NewPushClient(cfg *config.PushConfig, log *logger.Logger) *PushClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PushClient{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		enabled:    cfg.Enabled,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.Component("push"),
	}
}

// Send posts msg as JSON to the gateway. Any non-2xx answer is an error.
func (c *PushClient) Send(ctx context.Context, msg *Message) error {
	if !c.enabled {
		c.log.Debug().Msg("Push is disabled, skipping message")
		return ErrDisabled
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send push message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push gateway returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	c.log.Debug().
		Str("type", msg.Data["type"]).
		Msg("Sent push message")

	return nil
}
