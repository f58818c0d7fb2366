package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/harutaka05225589-art/InvestorNews/internal/model"
)

func boolPtr(b bool) *bool { return &b }

func TestShouldNotify(t *testing.T) {
	gate := Thresholds{MinRatePercent: 5.0}

	cases := []struct {
		name string
		ext  model.Extraction
		want bool
	}{
		{"upward above threshold", model.Extraction{IsUpward: boolPtr(true), RevisionRatePercent: 12.5}, true},
		{"upward at threshold", model.Extraction{IsUpward: boolPtr(true), RevisionRatePercent: 5.0}, true},
		{"upward below threshold", model.Extraction{IsUpward: boolPtr(true), RevisionRatePercent: 4.9}, false},
		{"downward large move", model.Extraction{IsUpward: boolPtr(false), RevisionRatePercent: -40.0}, false},
		{"undetermined direction", model.Extraction{IsUpward: nil, RevisionRatePercent: 20.0}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, gate.ShouldNotify(&tc.ext))
		})
	}
}

func TestShouldNotify_DividendHike(t *testing.T) {
	ext := model.Extraction{
		IsUpward:            boolPtr(true),
		RevisionRatePercent: 1.0,
		Dividend:            &model.Dividend{AnnualForecast: 50, IsHike: true},
	}

	off := Thresholds{MinRatePercent: 5.0}
	assert.False(t, off.ShouldNotify(&ext))

	on := Thresholds{MinRatePercent: 5.0, NotifyDividendHike: true}
	assert.True(t, on.ShouldNotify(&ext))

	// A dividend hike never overrides a non-upward direction.
	ext.IsUpward = nil
	assert.False(t, on.ShouldNotify(&ext))
}
