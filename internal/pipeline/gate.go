// Package pipeline ties scanning, extraction and notification into one run.
package pipeline

import (
	"github.com/harutaka05225589-art/InvestorNews/internal/model"
)

// Thresholds configures the materiality gate.
type Thresholds struct {
	// MinRatePercent is the minimum revision rate, in percent, for an upward
	// revision to be worth notifying.
	MinRatePercent float64

	// NotifyDividendHike also passes upward revisions whose dividend was
	// raised, even when the profit revision alone is below the threshold.
	NotifyDividendHike bool
}

// ShouldNotify is the pure materiality gate. Only an explicit upward revision
// can pass; an undetermined direction (nil) never notifies.
func (t Thresholds) ShouldNotify(ext *model.Extraction) bool {
	if !ext.Upward() {
		return false
	}
	if ext.RevisionRatePercent >= t.MinRatePercent {
		return true
	}
	if t.NotifyDividendHike && ext.Dividend != nil && ext.Dividend.IsHike {
		return true
	}
	return false
}
