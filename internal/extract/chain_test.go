package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harutaka05225589-art/InvestorNews/internal/resilience"
	"github.com/harutaka05225589-art/InvestorNews/pkg/anthropic"
)

// fakeClient routes CreateMessage to a per-model handler and records the
// invocation order.
type fakeClient struct {
	handlers map[string]func() (*anthropic.MessageResponse, error)
	calls    []string
}

func (f *fakeClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.calls = append(f.calls, req.Model)
	h, ok := f.handlers[req.Model]
	if !ok {
		return nil, errors.New("unexpected model " + req.Model)
	}
	return h()
}

func textResponse(text string) (*anthropic.MessageResponse, error) {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}, nil
}

func TestChain_FirstModelSucceeds(t *testing.T) {
	client := &fakeClient{handlers: map[string]func() (*anthropic.MessageResponse, error){
		"model-a": func() (*anthropic.MessageResponse, error) { return textResponse("ok") },
	}}
	chain := NewChain(client, []string{"model-a", "model-b", "model-c"}, 0)

	resp, usedModel, err := chain.Invoke(context.Background(), anthropic.MessageRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text())
	assert.Equal(t, "model-a", usedModel)
	assert.Equal(t, []string{"model-a"}, client.calls)
}

func TestChain_FallsThroughUnavailableNeverPastSuccess(t *testing.T) {
	client := &fakeClient{handlers: map[string]func() (*anthropic.MessageResponse, error){
		"model-a": func() (*anthropic.MessageResponse, error) {
			return nil, &resilience.ModelUnavailableError{Model: "model-a", Err: errors.New("404")}
		},
		"model-b": func() (*anthropic.MessageResponse, error) { return textResponse("ok") },
	}}
	chain := NewChain(client, []string{"model-a", "model-b", "model-c"}, 0)

	_, usedModel, err := chain.Invoke(context.Background(), anthropic.MessageRequest{})
	require.NoError(t, err)
	assert.Equal(t, "model-b", usedModel)
	// model-c is never invoked once model-b answers.
	assert.Equal(t, []string{"model-a", "model-b"}, client.calls)
}

func TestChain_TransientFallsThrough(t *testing.T) {
	client := &fakeClient{handlers: map[string]func() (*anthropic.MessageResponse, error){
		"model-a": func() (*anthropic.MessageResponse, error) {
			return nil, resilience.NewTransientError(errors.New("503"), 503)
		},
		"model-b": func() (*anthropic.MessageResponse, error) { return textResponse("ok") },
	}}
	chain := NewChain(client, []string{"model-a", "model-b"}, 0)

	_, usedModel, err := chain.Invoke(context.Background(), anthropic.MessageRequest{})
	require.NoError(t, err)
	assert.Equal(t, "model-b", usedModel)
}

func TestChain_QuotaOnLastModelSurfaces(t *testing.T) {
	quota := func() (*anthropic.MessageResponse, error) {
		return nil, &resilience.QuotaError{Model: "x", Err: errors.New("429")}
	}
	client := &fakeClient{handlers: map[string]func() (*anthropic.MessageResponse, error){
		"model-a": quota,
		"model-b": quota,
	}}
	chain := NewChain(client, []string{"model-a", "model-b"}, 0)

	_, _, err := chain.Invoke(context.Background(), anthropic.MessageRequest{})
	require.Error(t, err)
	assert.True(t, resilience.IsQuota(err))
	assert.Equal(t, []string{"model-a", "model-b"}, client.calls)
}

func TestChain_Exhausted(t *testing.T) {
	unavailable := func() (*anthropic.MessageResponse, error) {
		return nil, &resilience.ModelUnavailableError{Model: "x", Err: errors.New("404")}
	}
	client := &fakeClient{handlers: map[string]func() (*anthropic.MessageResponse, error){
		"model-a": unavailable,
		"model-b": unavailable,
	}}
	chain := NewChain(client, []string{"model-a", "model-b"}, 0)

	_, _, err := chain.Invoke(context.Background(), anthropic.MessageRequest{})
	assert.ErrorIs(t, err, ErrChainExhausted)
}

func TestChain_PermanentErrorStops(t *testing.T) {
	client := &fakeClient{handlers: map[string]func() (*anthropic.MessageResponse, error){
		"model-a": func() (*anthropic.MessageResponse, error) {
			return nil, errors.New("invalid request")
		},
	}}
	chain := NewChain(client, []string{"model-a", "model-b"}, 0)

	_, _, err := chain.Invoke(context.Background(), anthropic.MessageRequest{})
	require.Error(t, err)
	assert.Equal(t, []string{"model-a"}, client.calls)
}
