package openai

import (
	"encoding/json"

	"github.com/univac-1/risk-analyzer/internal/domain"
)

// assessmentDoc mirrors the JSON object the model is instructed to return.
// Pointers distinguish absent fields from zero values.
type assessmentDoc struct {
	OverallScore *float64  `json:"overall_score"`
	RiskLevel    string    `json:"risk_level"`
	Risks        []riskDoc `json:"risks"`
}

type riskDoc struct {
	StartTime   *float64 `json:"start_time"`
	EndTime     *float64 `json:"end_time"`
	Category    string   `json:"category"`
	Subcategory string   `json:"subcategory"`
	Score       *float64 `json:"score"`
	Level       string   `json:"level"`
	Rationale   string   `json:"rationale"`
	Source      string   `json:"source"`
	Evidence    string   `json:"evidence"`
}

// decodeAssessment coerces a raw model reply into a valid assessment.
// Unusable replies become the empty assessment; malformed items are
// dropped rather than failing the whole evaluation.
func decodeAssessment(raw string) domain.RiskAssessment {
	cleaned := cleanJSONResponse(raw)
	var doc assessmentDoc
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return domain.EmptyAssessment()
	}

	items := make([]domain.RiskItem, 0, len(doc.Risks))
	for _, r := range doc.Risks {
		item, ok := coerceRiskItem(r)
		if !ok {
			continue
		}
		items = append(items, item)
	}

	var overall float64
	if doc.OverallScore != nil {
		overall = clampScore(*doc.OverallScore)
	} else {
		for _, it := range items {
			if it.Score > overall {
				overall = it.Score
			}
		}
	}

	level := domain.RiskLevel(doc.RiskLevel)
	if !domain.ValidRiskLevel(level) {
		level = deriveLevel(overall)
	}

	return domain.RiskAssessment{OverallScore: overall, RiskLevel: level, Risks: items}
}

func coerceRiskItem(r riskDoc) (domain.RiskItem, bool) {
	category := domain.RiskCategory(r.Category)
	if !domain.ValidRiskCategory(category) {
		return domain.RiskItem{}, false
	}
	source := domain.RiskSource(r.Source)
	if !domain.ValidRiskSource(source) {
		return domain.RiskItem{}, false
	}
	if r.StartTime == nil || r.EndTime == nil {
		return domain.RiskItem{}, false
	}
	start := *r.StartTime
	if start < 0 {
		start = 0
	}
	end := *r.EndTime
	if end < start {
		return domain.RiskItem{}, false
	}
	var score float64
	if r.Score != nil {
		score = clampScore(*r.Score)
	}
	level := domain.RiskLevel(r.Level)
	if !domain.ValidRiskLevel(level) {
		level = deriveLevel(score)
	}
	return domain.RiskItem{
		StartSec:    start,
		EndSec:      end,
		Category:    category,
		Subcategory: r.Subcategory,
		Score:       score,
		Level:       level,
		Rationale:   r.Rationale,
		Source:      source,
		Evidence:    r.Evidence,
	}, true
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// deriveLevel maps a 0-100 score onto the level enum when the model omits
// or mangles it.
func deriveLevel(score float64) domain.RiskLevel {
	switch {
	case score >= 70:
		return domain.RiskHigh
	case score >= 40:
		return domain.RiskMedium
	case score > 0:
		return domain.RiskLow
	default:
		return domain.RiskNone
	}
}
