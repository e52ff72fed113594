package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/univac-1/risk-analyzer/internal/adapter/reasoner/tokencount"
	"github.com/univac-1/risk-analyzer/internal/config"
	"github.com/univac-1/risk-analyzer/internal/domain"
	"github.com/univac-1/risk-analyzer/pkg/textx"
)

const systemPromptHeader = `You are a reputational risk reviewer for short social videos.
You receive the machine perception of one video (speech transcript, on-screen text, visual annotations) plus the creator's publishing context.
Identify time-ranged segments that could trigger public backlash and score the overall risk.

Respond with a single JSON object, no prose, in this shape:
{
  "overall_score": <0-100>,
  "risk_level": "high" | "medium" | "low" | "none",
  "risks": [
    {
      "start_time": <seconds>,
      "end_time": <seconds>,
      "category": <category key>,
      "subcategory": <free text>,
      "score": <0-100>,
      "level": "high" | "medium" | "low",
      "rationale": <why this is risky, one or two sentences>,
      "source": "audio" | "ocr" | "video",
      "evidence": <the quoted words, text or visual cue>
    }
  ]
}
An empty risks array with risk_level "none" is a valid answer.`

// buildSystemPrompt renders the instruction block with the closed category
// taxonomy appended.
func buildSystemPrompt(tax config.RiskTaxonomy) string {
	var b strings.Builder
	b.WriteString(systemPromptHeader)
	b.WriteString("\n\nRisk categories (use only these keys):\n")
	for _, c := range tax.Categories {
		fmt.Fprintf(&b, "- %s (%s): %s Subcategory examples: %s.\n",
			c.Key, c.Label, c.Guidance, strings.Join(c.Subcategories, ", "))
	}
	return b.String()
}

// buildUserPrompt renders the per-video evaluation input. Each phase
// document is truncated to its share of the prompt token budget; a nil
// phase is reported as unavailable so the model does not hallucinate it.
func buildUserPrompt(in domain.EvaluationInput, counter *tokencount.Counter, model string, promptBudget int) string {
	perPhase := promptBudget / 3
	var b strings.Builder

	fmt.Fprintf(&b, "Publishing context:\n- purpose: %s\n- platform: %s\n- target audience: %s\n- video duration: %.1f seconds\n",
		textx.CollapseSpace(textx.SanitizeText(in.Metadata.Purpose)),
		in.Metadata.Platform,
		textx.CollapseSpace(textx.SanitizeText(in.Metadata.TargetAudience)),
		in.DurationSec)

	b.WriteString("\n## Speech transcript\n")
	writePhaseDoc(&b, in.Transcript, counter, model, perPhase)

	b.WriteString("\n## On-screen text\n")
	writePhaseDoc(&b, in.OCR, counter, model, perPhase)

	b.WriteString("\n## Visual annotations\n")
	writePhaseDoc(&b, in.Vision, counter, model, perPhase)

	return b.String()
}

func writePhaseDoc(b *strings.Builder, doc any, counter *tokencount.Counter, model string, budget int) {
	if isNilPhase(doc) {
		b.WriteString("(analysis unavailable for this phase)\n")
		return
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		b.WriteString("(analysis unavailable for this phase)\n")
		return
	}
	b.WriteString(counter.Truncate(model, textx.SanitizeText(string(raw)), budget))
	b.WriteString("\n")
}

func isNilPhase(doc any) bool {
	switch v := doc.(type) {
	case *domain.Transcript:
		return v == nil
	case *domain.OCRTextResult:
		return v == nil
	case *domain.VisionResult:
		return v == nil
	}
	return doc == nil
}
