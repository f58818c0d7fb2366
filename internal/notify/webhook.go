package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// WebhookChannel posts notifications as JSON to an operator-supplied URL,
// e.g. a Slack-compatible incoming webhook.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel creates a generic webhook channel.
func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

// Send posts {"text": message}. Webhooks return no id, so a local one is
// generated for the dispatch log.
func (c *WebhookChannel) Send(ctx context.Context, message string) (string, error) {
	payload, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return "", eris.Wrap(err, "webhook: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", eris.Wrap(err, "webhook: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "webhook: post")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", eris.Errorf("webhook: http %d", resp.StatusCode)
	}
	return uuid.New().String(), nil
}
