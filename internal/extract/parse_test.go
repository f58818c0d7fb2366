package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFencedJSON(t *testing.T) {
	jsonBody := `{"is_upward": true}`

	assert.Equal(t, jsonBody, ExtractFencedJSON("前置き\n```json\n"+jsonBody+"\n```\n後置き"))
	assert.Equal(t, jsonBody, ExtractFencedJSON("```\n"+jsonBody+"\n```"))
	assert.Equal(t, jsonBody, ExtractFencedJSON("  "+jsonBody+"  "))
}

func TestExtractFencedJSON_PrefersJSONFence(t *testing.T) {
	text := "```\nnot json\n```\n```json\n{\"a\":1}\n```"
	assert.Equal(t, `{"a":1}`, ExtractFencedJSON(text))
}

func TestParseExtraction_Valid(t *testing.T) {
	text := "```json\n" + `{
		"is_upward": true,
		"revision_rate_op": 12.54,
		"summary": "  半導体需要の回復により通期営業利益を上方修正  ",
		"quarter": "FY2026Q3",
		"dividend": {"annual_forecast": 50.0, "is_hike": true}
	}` + "\n```"

	ext, err := ParseExtraction(text, 10)
	require.NoError(t, err)

	assert.True(t, ext.Upward())
	assert.Equal(t, 12.5, ext.RevisionRatePercent)
	assert.Equal(t, []rune("半導体需要の回復により")[:10], []rune(ext.Summary))
	require.NotNil(t, ext.Dividend)
	assert.True(t, ext.Dividend.IsHike)
}

func TestParseExtraction_NullDirection(t *testing.T) {
	ext, err := ParseExtraction(`{"is_upward": null, "revision_rate_op": 0, "summary": "配当のみの修正"}`, 30)
	require.NoError(t, err)
	assert.Nil(t, ext.IsUpward)
	assert.False(t, ext.Upward())
}

func TestParseExtraction_MissingRateDefaultsToZero(t *testing.T) {
	ext, err := ParseExtraction(`{"is_upward": false, "summary": "減収見込み"}`, 30)
	require.NoError(t, err)
	assert.Zero(t, ext.RevisionRatePercent)
}

func TestParseExtraction_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":           "",
		"not json":        "すみません、解析できませんでした。",
		"missing summary": `{"is_upward": true, "revision_rate_op": 5.0}`,
		"absurd rate":     `{"is_upward": true, "revision_rate_op": 99999, "summary": "x"}`,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseExtraction(text, 30)
			assert.Error(t, err)
		})
	}
}
