package extract

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/harutaka05225589-art/InvestorNews/internal/model"
)

// maxAbsRatePercent bounds plausible revision rates; anything beyond it is
// treated as a hallucinated number and rejected.
const maxAbsRatePercent = 1000.0

var (
	jsonFence    = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	genericFence = regexp.MustCompile("(?s)```\\s*(.*?)```")
)

// ExtractFencedJSON pulls the JSON payload out of a model response. It prefers
// a ` ```json ` fence, falls back to any fence, and finally to the raw text.
func ExtractFencedJSON(text string) string {
	if m := jsonFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := genericFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// ParseExtraction decodes and validates a model response into an Extraction.
// The summary is clamped to maxSummaryRunes and the rate rounded to one
// decimal before the payload is returned.
func ParseExtraction(text string, maxSummaryRunes int) (*model.Extraction, error) {
	payload := ExtractFencedJSON(text)
	if payload == "" {
		return nil, eris.New("extract: empty model response")
	}

	var ext model.Extraction
	if err := json.Unmarshal([]byte(payload), &ext); err != nil {
		return nil, eris.Wrap(err, "extract: decode response json")
	}

	if strings.TrimSpace(ext.Summary) == "" {
		return nil, eris.New("extract: missing summary")
	}
	if math.IsNaN(ext.RevisionRatePercent) || math.IsInf(ext.RevisionRatePercent, 0) {
		return nil, eris.New("extract: revision rate is not a number")
	}
	if math.Abs(ext.RevisionRatePercent) > maxAbsRatePercent {
		return nil, eris.Errorf("extract: implausible revision rate %.1f", ext.RevisionRatePercent)
	}

	ext.Normalize(maxSummaryRunes)
	return &ext, nil
}
