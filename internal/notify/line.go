package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/harutaka05225589-art/InvestorNews/internal/resilience"
)

// LineChannel broadcasts notifications through the LINE Messaging API.
type LineChannel struct {
	token   string
	baseURL string
	client  *http.Client
}

// NewLineChannel creates a LINE broadcast channel.
func NewLineChannel(token, baseURL string) *LineChannel {
	return &LineChannel{
		token:   token,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *LineChannel) Name() string { return "line" }

// Send broadcasts the message and returns LINE's request id as delivery id.
func (c *LineChannel) Send(ctx context.Context, message string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"messages": []map[string]string{
			{"type": "text", "text": message},
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "line: marshal payload")
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("line", "broadcast")

	var deliveryID string
	err = resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/v2/bot/message/broadcast", bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "line: create request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.client.Do(req)
		if err != nil {
			return resilience.NewTransientError(err, 0)
		}
		defer resp.Body.Close() //nolint:errcheck
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))

		switch {
		case resp.StatusCode == http.StatusOK:
			deliveryID = resp.Header.Get("X-Line-Request-Id")
			return nil
		case resilience.IsTransientHTTPStatus(resp.StatusCode):
			return resilience.NewTransientError(
				eris.Errorf("line: http %d: %s", resp.StatusCode, body), resp.StatusCode)
		default:
			return eris.Errorf("line: http %d: %s", resp.StatusCode, body)
		}
	})
	if err != nil {
		return "", err
	}
	return deliveryID, nil
}
