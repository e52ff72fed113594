package httpserver

import (
	"time"

	"github.com/univac-1/risk-analyzer/internal/domain"
	"github.com/univac-1/risk-analyzer/internal/usecase"
)

type metadataView struct {
	Purpose        string `json:"purpose"`
	Platform       string `json:"platform"`
	TargetAudience string `json:"target_audience"`
}

type jobView struct {
	ID           string       `json:"id"`
	VideoID      string       `json:"video_id"`
	Status       string       `json:"status"`
	Metadata     metadataView `json:"metadata"`
	OverallScore *float64     `json:"overall_score,omitempty"`
	RiskLevel    *string      `json:"risk_level,omitempty"`
	Error        string       `json:"error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

func toJobView(j domain.AnalysisJob) jobView {
	v := jobView{
		ID:      j.ID,
		VideoID: j.VideoID,
		Status:  string(j.Status),
		Metadata: metadataView{
			Purpose:        j.Metadata.Purpose,
			Platform:       string(j.Metadata.Platform),
			TargetAudience: j.Metadata.TargetAudience,
		},
		OverallScore: j.OverallScore,
		Error:        j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		CompletedAt:  j.CompletedAt,
	}
	if j.RiskLevel != nil {
		level := string(*j.RiskLevel)
		v.RiskLevel = &level
	}
	return v
}

func toJobViews(jobs []domain.AnalysisJob) []jobView {
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobView(j))
	}
	return out
}

type riskItemView struct {
	ID          string  `json:"id"`
	StartSec    float64 `json:"start_sec"`
	EndSec      float64 `json:"end_sec"`
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory,omitempty"`
	Score       float64 `json:"score"`
	Level       string  `json:"level"`
	Rationale   string  `json:"rationale"`
	Source      string  `json:"source"`
	Evidence    string  `json:"evidence,omitempty"`
}

func toRiskItemViews(items []domain.RiskItem) []riskItemView {
	out := make([]riskItemView, 0, len(items))
	for _, it := range items {
		out = append(out, riskItemView{
			ID:          it.ID,
			StartSec:    it.StartSec,
			EndSec:      it.EndSec,
			Category:    string(it.Category),
			Subcategory: it.Subcategory,
			Score:       it.Score,
			Level:       string(it.Level),
			Rationale:   it.Rationale,
			Source:      string(it.Source),
			Evidence:    it.Evidence,
		})
	}
	return out
}

type resultsView struct {
	Job      jobView        `json:"job"`
	Risks    []riskItemView `json:"risks"`
	VideoURL string         `json:"video_url,omitempty"`
}

type actionView struct {
	ID         string                `json:"id"`
	Type       string                `json:"type"`
	StartSec   float64               `json:"start_sec"`
	EndSec     float64               `json:"end_sec"`
	RiskItemID *string               `json:"risk_item_id,omitempty"`
	Mosaic     *domain.MosaicOptions `json:"mosaic,omitempty"`
	Telop      *domain.TelopOptions  `json:"telop,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

type sessionView struct {
	ID        string       `json:"id"`
	JobID     string       `json:"job_id"`
	Status    string       `json:"status"`
	Actions   []actionView `json:"actions"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func toSessionView(sa usecase.SessionWithActions) sessionView {
	actions := make([]actionView, 0, len(sa.Actions))
	for _, a := range sa.Actions {
		actions = append(actions, actionView{
			ID:         a.ID,
			Type:       string(a.Type),
			StartSec:   a.StartSec,
			EndSec:     a.EndSec,
			RiskItemID: a.RiskItemID,
			Mosaic:     a.Mosaic,
			Telop:      a.Telop,
			CreatedAt:  a.CreatedAt,
			UpdatedAt:  a.UpdatedAt,
		})
	}
	return sessionView{
		ID:        sa.Session.ID,
		JobID:     sa.Session.JobID,
		Status:    string(sa.Session.Status),
		Actions:   actions,
		CreatedAt: sa.Session.CreatedAt,
		UpdatedAt: sa.Session.UpdatedAt,
	}
}

type exportView struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	Status      string     `json:"status"`
	Progress    float64    `json:"progress"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// toExportView merges the export row with its live progress document. When
// the snapshot is absent the row's status stands in for it.
func toExportView(view usecase.ExportStatusView) exportView {
	out := exportView{
		ID:          view.Export.ID,
		SessionID:   view.Export.SessionID,
		Status:      string(view.Export.Status),
		Error:       view.Export.ErrorMessage,
		CreatedAt:   view.Export.CreatedAt,
		CompletedAt: view.Export.CompletedAt,
	}
	if view.Progress != nil {
		out.Status = string(view.Progress.Status)
		out.Progress = view.Progress.Progress
		if view.Progress.Error != "" {
			out.Error = view.Progress.Error
		}
		return out
	}
	switch view.Export.Status {
	case domain.ExportCompleted:
		out.Progress = 100
	case domain.ExportFailed, domain.ExportPending, domain.ExportProcessing:
		out.Progress = 0
	}
	return out
}
