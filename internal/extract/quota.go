package extract

import (
	"errors"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/harutaka05225589-art/InvestorNews/internal/resilience"
)

// classifyModelError maps a raw SDK error into the typed resilience errors
// the fallback chain steers on. Classification happens once, here, so the
// rest of the pipeline only ever sees typed errors.
func classifyModelError(model string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusNotFound:
			return &resilience.ModelUnavailableError{Model: model, Err: err}
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return &resilience.QuotaError{Model: model, Err: err}
		case resilience.IsTransientHTTPStatus(apiErr.StatusCode):
			return resilience.NewTransientError(err, apiErr.StatusCode)
		default:
			return err
		}
	}

	// Network-level failures without an API status.
	if resilience.IsTransient(err) {
		return resilience.NewTransientError(err, 0)
	}
	return err
}
