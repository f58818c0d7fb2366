// Package extract turns filing documents into structured revision payloads
// through an ordered chain of AI models.
package extract

import (
	"fmt"
	"strings"
)

const systemPrompt = `あなたは日本の適時開示資料を解析するアナリストです。
業績予想の修正に関する開示本文から、指定されたJSONスキーマに従って情報を抽出してください。
出力はJSONコードブロックのみとし、説明文は付けないでください。`

const promptSchema = `{
  "is_upward": true | false | null,
  "revision_rate_op": 0.0,
  "summary": "修正理由の要約（%d文字以内）",
  "quarter": "例: FY2026Q3",
  "dividend": {
    "annual_forecast": 0.0,
    "is_hike": false,
    "rights_month": 0,
    "payment_month": 0
  },
  "forecast_data": {
    "previous": {"revenue": 0.0, "operating_profit": 0.0, "net_income": 0.0},
    "revised": {"revenue": 0.0, "operating_profit": 0.0, "net_income": 0.0},
    "unit": "百万円"
  }
}`

// PromptBuilder assembles extraction prompts from filing text.
type PromptBuilder struct {
	upwardRule      string
	maxSummaryRunes int
}

// NewPromptBuilder creates a PromptBuilder. upwardRule states when is_upward
// must be true; it is injected into the decision rules verbatim.
func NewPromptBuilder(upwardRule string, maxSummaryRunes int) *PromptBuilder {
	if maxSummaryRunes <= 0 {
		maxSummaryRunes = 30
	}
	return &PromptBuilder{upwardRule: upwardRule, maxSummaryRunes: maxSummaryRunes}
}

// System returns the system prompt.
func (b *PromptBuilder) System() string {
	return systemPrompt
}

// Build returns the user message for one filing document.
func (b *PromptBuilder) Build(companyName, title, documentText string) string {
	var sb strings.Builder

	sb.WriteString("次の開示資料を解析してください。\n\n")
	fmt.Fprintf(&sb, "会社名: %s\n表題: %s\n\n", companyName, title)

	sb.WriteString("出力スキーマ:\n```json\n")
	fmt.Fprintf(&sb, promptSchema, b.maxSummaryRunes)
	sb.WriteString("\n```\n\n")

	sb.WriteString("判定ルール:\n")
	if b.upwardRule != "" {
		fmt.Fprintf(&sb, "- %s\n", b.upwardRule)
	}
	sb.WriteString("- revision_rate_op は主要利益指標（営業利益）の修正率（%）を符号付きで計算すること。計算できない場合は 0.0 とする。\n")
	sb.WriteString("- 判断できない項目は null または省略とする。\n\n")

	sb.WriteString("開示本文:\n")
	sb.WriteString(documentText)

	return sb.String()
}
