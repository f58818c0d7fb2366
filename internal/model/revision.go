// Package model defines the domain types shared across the revision pipeline.
package model

import (
	"math"
	"strings"
	"time"
)

// DateFormat is the canonical format for filing dates.
const DateFormat = "2006-01-02"

// State is the lifecycle state of a revision record.
type State int

const (
	// StatePending marks a candidate awaiting extraction.
	StatePending State = 0
	// StateAnalyzed marks a record with a validated extraction payload.
	StateAnalyzed State = 1
	// StateFailed marks a record whose extraction failed permanently.
	StateFailed State = 2
	// StateBackfilled marks a historical import that intentionally skipped
	// extraction. Only an operator reset moves it back to Pending.
	StateBackfilled State = 3
)

var stateNames = map[State]string{
	StatePending:    "pending",
	StateAnalyzed:   "analyzed",
	StateFailed:     "failed",
	StateBackfilled: "backfilled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether s is one of the defined lifecycle states.
func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// RevisionRecord is one forecast-revision filing for one ticker on one day.
// The pair (Ticker, FilingDate) is unique.
type RevisionRecord struct {
	ID          int64       `json:"id,omitempty"`
	Ticker      string      `json:"ticker"`
	CompanyName string      `json:"company_name,omitempty"`
	FilingDate  string      `json:"filing_date"`
	Title       string      `json:"title"`
	DocumentURL string      `json:"document_url,omitempty"`
	State       State       `json:"state"`
	FailReason  string      `json:"fail_reason,omitempty"`
	Extraction  *Extraction `json:"extraction,omitempty"`
	CreatedAt   time.Time   `json:"created_at,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at,omitempty"`
}

// Key returns the unique (ticker, filing date) pair of the record.
func (r RevisionRecord) Key() (string, string) {
	return r.Ticker, r.FilingDate
}

// Extraction is the structured payload produced by the AI extraction service.
// Field names mirror the JSON schema enumerated in the extraction prompt.
type Extraction struct {
	// IsUpward is tri-state: true, false, or nil when the direction could
	// not be determined (e.g. a dividend-only change).
	IsUpward *bool `json:"is_upward"`

	// RevisionRatePercent is the signed percentage change of the primary
	// profit metric; 0.0 when not computable.
	RevisionRatePercent float64 `json:"revision_rate_op"`

	// Summary is a short reason string, clamped to a configured rune budget.
	Summary string `json:"summary"`

	Quarter       string         `json:"quarter,omitempty"`
	Dividend      *Dividend      `json:"dividend,omitempty"`
	ForecastTable *ForecastTable `json:"forecast_data,omitempty"`
}

// Dividend captures the dividend portion of a revision filing.
type Dividend struct {
	AnnualForecast float64 `json:"annual_forecast"`
	IsHike         bool    `json:"is_hike"`
	RightsMonth    int     `json:"rights_month,omitempty"`
	PaymentMonth   int     `json:"payment_month,omitempty"`
}

// ForecastTable is the numeric before/after snapshot from the filing.
type ForecastTable struct {
	Previous map[string]float64 `json:"previous,omitempty"`
	Revised  map[string]float64 `json:"revised,omitempty"`
	Unit     string             `json:"unit,omitempty"`
}

// Normalize rounds the revision rate to one decimal and clamps the summary
// to maxSummaryRunes. A non-positive budget leaves the summary untouched.
func (e *Extraction) Normalize(maxSummaryRunes int) {
	e.RevisionRatePercent = math.Round(e.RevisionRatePercent*10) / 10
	e.Summary = strings.TrimSpace(e.Summary)
	if maxSummaryRunes > 0 {
		if runes := []rune(e.Summary); len(runes) > maxSummaryRunes {
			e.Summary = string(runes[:maxSummaryRunes])
		}
	}
}

// Upward reports whether the extraction marked the revision as net-positive.
func (e *Extraction) Upward() bool {
	return e != nil && e.IsUpward != nil && *e.IsUpward
}

// DispatchRecord is one delivery attempt outcome for one channel, used to
// suppress duplicate sends across retried runs.
type DispatchRecord struct {
	Ticker     string    `json:"ticker"`
	FilingDate string    `json:"filing_date"`
	Channel    string    `json:"channel"`
	DeliveryID string    `json:"delivery_id,omitempty"`
	Outcome    string    `json:"outcome"`
	SentAt     time.Time `json:"sent_at"`
}

// DispatchOutcomeSent is the outcome recorded for a delivered notification.
const DispatchOutcomeSent = "sent"
