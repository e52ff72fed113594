package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/univac-1/risk-analyzer/internal/domain"
)

type sweeperJobs struct {
	processing []domain.AnalysisJob
	failed     map[string]string
}

func (f *sweeperJobs) Create(domain.Context, domain.AnalysisJob) error { return nil }

func (f *sweeperJobs) Get(domain.Context, string) (domain.AnalysisJob, error) {
	return domain.AnalysisJob{}, domain.ErrNotFound
}

func (f *sweeperJobs) List(domain.Context, int, int) ([]domain.AnalysisJob, error) { return nil, nil }

func (f *sweeperJobs) ListByStatus(_ domain.Context, status domain.JobStatus, offset, _ int) ([]domain.AnalysisJob, error) {
	if status != domain.JobProcessing || offset >= len(f.processing) {
		return nil, nil
	}
	return f.processing[offset:], nil
}

func (f *sweeperJobs) MarkProcessing(domain.Context, string) error { return nil }

func (f *sweeperJobs) Complete(domain.Context, string, float64, domain.RiskLevel) error { return nil }

func (f *sweeperJobs) Fail(_ domain.Context, id string, errMsg string) error {
	if f.failed == nil {
		f.failed = map[string]string{}
	}
	f.failed[id] = errMsg
	return nil
}

func (f *sweeperJobs) SetPhaseResult(domain.Context, string, domain.Phase, []byte) error { return nil }

func (f *sweeperJobs) ReplaceRiskItems(domain.Context, string, []domain.RiskItem) error { return nil }

func (f *sweeperJobs) ListRiskItems(domain.Context, string) ([]domain.RiskItem, error) {
	return nil, nil
}

func (f *sweeperJobs) ListFinishedBefore(domain.Context, time.Time, int) ([]domain.AnalysisJob, error) {
	return nil, nil
}

func (f *sweeperJobs) Delete(domain.Context, string) error { return nil }

func TestSweepFailsOnlyStaleJobs(t *testing.T) {
	now := time.Now().UTC()
	jobs := &sweeperJobs{processing: []domain.AnalysisJob{
		{ID: "stale", Status: domain.JobProcessing, UpdatedAt: now.Add(-time.Hour)},
		{ID: "fresh", Status: domain.JobProcessing, UpdatedAt: now},
	}}
	s := NewStuckJobSweeper(jobs, 30*time.Minute, time.Minute)

	s.sweepOnce(context.Background())

	assert.Contains(t, jobs.failed, "stale")
	assert.NotContains(t, jobs.failed, "fresh")
}

func TestNewStuckJobSweeperNilRepo(t *testing.T) {
	assert.Nil(t, NewStuckJobSweeper(nil, time.Minute, time.Minute))
}
