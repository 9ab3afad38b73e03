package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pario-ai/cloudcost/pkg/config"
)

// ChatChannel posts alerts to a Slack-compatible incoming webhook.
type ChatChannel struct {
	cfg    config.ChatConfig
	client *http.Client
}

// NewChatChannel returns a chat channel for cfg. A nil client uses
// http.DefaultClient; the dispatcher's context bounds each request.
func NewChatChannel(cfg config.ChatConfig, client *http.Client) *ChatChannel {
	if client == nil {
		client = http.DefaultClient
	}
	return &ChatChannel{cfg: cfg, client: client}
}

// Name identifies the channel in logs and metrics.
func (c *ChatChannel) Name() string { return "chat" }

// Enabled is false unless the channel is switched on and has a webhook URL.
func (c *ChatChannel) Enabled() bool {
	return c.cfg.Enabled && c.cfg.WebhookURL != ""
}

// Send posts {"text": ...}. Any non-2xx status is a failure.
func (c *ChatChannel) Send(ctx context.Context, n Notice) error {
	body, err := json.Marshal(map[string]string{"text": n.Text()})
	if err != nil {
		return fmt.Errorf("encode chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post chat webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("chat webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
