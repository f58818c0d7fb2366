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

// maxPostRunes is the X post length limit counted in characters.
const maxPostRunes = 280

// XChannel posts notifications to X through the v2 API.
type XChannel struct {
	token   string
	baseURL string
	client  *http.Client
}

// NewXChannel creates an X posting channel.
func NewXChannel(token, baseURL string) *XChannel {
	return &XChannel{
		token:   token,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *XChannel) Name() string { return "x" }

// Send posts the message and returns the created post id as delivery id.
func (c *XChannel) Send(ctx context.Context, message string) (string, error) {
	if runes := []rune(message); len(runes) > maxPostRunes {
		message = string(runes[:maxPostRunes-1]) + "…"
	}

	payload, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return "", eris.Wrap(err, "x: marshal payload")
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("x", "post")

	var deliveryID string
	err = resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/2/tweets", bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "x: create request")
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
		case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
			var out struct {
				Data struct {
					ID string `json:"id"`
				} `json:"data"`
			}
			if err := json.Unmarshal(body, &out); err != nil {
				return eris.Wrap(err, "x: decode response")
			}
			deliveryID = out.Data.ID
			return nil
		case resilience.IsTransientHTTPStatus(resp.StatusCode):
			return resilience.NewTransientError(
				eris.Errorf("x: http %d: %s", resp.StatusCode, body), resp.StatusCode)
		default:
			return eris.Errorf("x: http %d: %s", resp.StatusCode, body)
		}
	})
	if err != nil {
		return "", err
	}
	return deliveryID, nil
}
