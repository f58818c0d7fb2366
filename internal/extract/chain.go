package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harutaka05225589-art/InvestorNews/internal/resilience"
	"github.com/harutaka05225589-art/InvestorNews/pkg/anthropic"
)

// ErrChainExhausted is returned when every model in the chain failed.
var ErrChainExhausted = eris.New("extract: all models failed")

// Chain invokes an ordered list of models, falling through to the next model
// when the current one is unavailable or transiently failing. A quota error
// on the last model surfaces as-is so the caller can abort the batch.
type Chain struct {
	client     anthropic.Client
	models     []string
	retryPause time.Duration
}

// NewChain creates a Chain over the given ordered model identifiers.
func NewChain(client anthropic.Client, models []string, retryPause time.Duration) *Chain {
	return &Chain{client: client, models: models, retryPause: retryPause}
}

// Invoke tries each model in order and returns the first successful response
// together with the model that produced it.
func (c *Chain) Invoke(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, string, error) {
	if len(c.models) == 0 {
		return nil, "", eris.New("extract: no models configured")
	}

	var lastErr error
	for i, mdl := range c.models {
		req.Model = mdl

		resp, err := c.client.CreateMessage(ctx, req)
		if err == nil {
			return resp, mdl, nil
		}

		classified := classifyModelError(mdl, err)
		lastErr = classified
		last := i == len(c.models)-1

		switch {
		case resilience.IsModelUnavailable(classified):
			// Retired or renamed model: fall through immediately.
			zap.L().Warn("model unavailable, trying next",
				zap.String("model", mdl),
				zap.Error(err),
			)
		case resilience.IsQuota(classified):
			if last {
				return nil, "", classified
			}
			zap.L().Warn("model quota exhausted, trying next after pause",
				zap.String("model", mdl),
			)
			if err := c.pause(ctx); err != nil {
				return nil, "", err
			}
		case resilience.IsTransient(classified):
			zap.L().Warn("transient model failure, trying next after pause",
				zap.String("model", mdl),
				zap.Error(err),
			)
			if !last {
				if err := c.pause(ctx); err != nil {
					return nil, "", err
				}
			}
		default:
			// Permanent request error; no other model will fare better.
			return nil, "", eris.Wrapf(classified, "extract: model %s", mdl)
		}
	}

	return nil, "", fmt.Errorf("%w: %w", ErrChainExhausted, lastErr)
}

func (c *Chain) pause(ctx context.Context) error {
	if c.retryPause <= 0 {
		return nil
	}
	t := time.NewTimer(c.retryPause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
