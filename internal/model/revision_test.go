package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func boolPtr(b bool) *bool { return &b }

func TestState_String(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "analyzed", StateAnalyzed.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "backfilled", StateBackfilled.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestState_Valid(t *testing.T) {
	assert.True(t, StatePending.Valid())
	assert.True(t, StateBackfilled.Valid())
	assert.False(t, State(-1).Valid())
	assert.False(t, State(4).Valid())
}

func TestExtraction_Normalize_RoundsRate(t *testing.T) {
	e := &Extraction{RevisionRatePercent: 12.456, Summary: "demand increase"}
	e.Normalize(30)
	assert.Equal(t, 12.5, e.RevisionRatePercent)

	e = &Extraction{RevisionRatePercent: -3.44}
	e.Normalize(30)
	assert.Equal(t, -3.4, e.RevisionRatePercent)
}

func TestExtraction_Normalize_ClampsSummary(t *testing.T) {
	e := &Extraction{Summary: "  主力製品の需要増と円安による輸出採算の改善が寄与し大幅な増益となった  "}
	e.Normalize(10)
	assert.Equal(t, 10, len([]rune(e.Summary)))
	assert.Equal(t, "主力製品の需要増と円", e.Summary)
}

func TestExtraction_Normalize_ZeroBudgetKeepsSummary(t *testing.T) {
	e := &Extraction{Summary: "unbounded summary text"}
	e.Normalize(0)
	assert.Equal(t, "unbounded summary text", e.Summary)
}

func TestExtraction_Upward(t *testing.T) {
	assert.True(t, (&Extraction{IsUpward: boolPtr(true)}).Upward())
	assert.False(t, (&Extraction{IsUpward: boolPtr(false)}).Upward())
	assert.False(t, (&Extraction{}).Upward())
	var nilExt *Extraction
	assert.False(t, nilExt.Upward())
}
