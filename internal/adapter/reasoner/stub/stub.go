// Package stub provides a deterministic risk reasoner for local
// development and tests. It flags transcript segments and overlays that
// contain obviously loaded wording.
package stub

import (
	"strings"

	"github.com/univac-1/risk-analyzer/internal/domain"
)

var triggerWords = map[string]domain.RiskCategory{
	"idiot":      domain.RiskAggressiveness,
	"hate":       domain.RiskAggressiveness,
	"normal":     domain.RiskDiscrimination,
	"guaranteed": domain.RiskMisleading,
	"definitely": domain.RiskMisleading,
	"free":       domain.RiskMisleading,
	"sneak":      domain.RiskPublicNuisance,
	"closing":    domain.RiskPublicNuisance,
}

// Reasoner implements domain.RiskReasoner without a model call.
type Reasoner struct{}

func New() *Reasoner { return &Reasoner{} }

// Evaluate scans the perceptual inputs for trigger words and fabricates a
// consistent assessment from the hits.
func (r *Reasoner) Evaluate(_ domain.Context, in domain.EvaluationInput) (domain.RiskAssessment, error) {
	var items []domain.RiskItem

	if in.Transcript != nil {
		for _, seg := range in.Transcript.Segments {
			if cat, hit := match(seg.Text); hit {
				items = append(items, item(seg.StartSec, seg.EndSec, cat, domain.SourceAudio, seg.Text))
			}
		}
	}
	if in.OCR != nil {
		for _, ann := range in.OCR.Annotations {
			if cat, hit := match(ann.Text); hit {
				items = append(items, item(ann.StartSec, ann.EndSec, cat, domain.SourceOCR, ann.Text))
			}
		}
	}
	if in.Vision != nil {
		for _, obj := range in.Vision.Objects {
			if obj.Label == "knife" && len(obj.Segments) > 0 {
				items = append(items, item(obj.Segments[0].StartSec, obj.Segments[0].EndSec,
					domain.RiskAggressiveness, domain.SourceVideo, obj.Label))
			}
		}
	}

	if len(items) == 0 {
		return domain.EmptyAssessment(), nil
	}
	var overall float64
	for _, it := range items {
		if it.Score > overall {
			overall = it.Score
		}
	}
	level := domain.RiskMedium
	if overall >= 70 {
		level = domain.RiskHigh
	}
	return domain.RiskAssessment{OverallScore: overall, RiskLevel: level, Risks: items}, nil
}

func match(text string) (domain.RiskCategory, bool) {
	lower := strings.ToLower(text)
	for word, cat := range triggerWords {
		if strings.Contains(lower, word) {
			return cat, true
		}
	}
	return "", false
}

func item(start, end float64, cat domain.RiskCategory, src domain.RiskSource, evidence string) domain.RiskItem {
	score := 55.0
	level := domain.RiskMedium
	if cat == domain.RiskAggressiveness {
		score = 75.0
		level = domain.RiskHigh
	}
	return domain.RiskItem{
		StartSec:  start,
		EndSec:    end,
		Category:  cat,
		Score:     score,
		Level:     level,
		Rationale: "flagged wording detected",
		Source:    src,
		Evidence:  evidence,
	}
}
