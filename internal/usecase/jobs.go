package usecase

import (
	"fmt"
	"io"
	"time"

	"github.com/univac-1/risk-analyzer/internal/domain"
)

// JobResults is a completed job together with its risk items.
type JobResults struct {
	Job   domain.AnalysisJob
	Risks []domain.RiskItem
}

// JobQueryService serves the read side of the job API.
type JobQueryService struct {
	Jobs     domain.JobRepository
	Videos   domain.VideoRepository
	Blob     domain.BlobStore
	Progress domain.ProgressStore
}

// NewJobQueryService constructs a JobQueryService.
func NewJobQueryService(jobs domain.JobRepository, videos domain.VideoRepository, blob domain.BlobStore, progress domain.ProgressStore) JobQueryService {
	return JobQueryService{Jobs: jobs, Videos: videos, Blob: blob, Progress: progress}
}

// List pages jobs newest first.
func (s JobQueryService) List(ctx domain.Context, offset, limit int) ([]domain.AnalysisJob, error) {
	return s.Jobs.List(ctx, offset, limit)
}

// Get returns one job.
func (s JobQueryService) Get(ctx domain.Context, id string) (domain.AnalysisJob, error) {
	return s.Jobs.Get(ctx, id)
}

// Results returns the assessment of a completed job. Jobs that are not
// completed yet, or failed, have no results.
func (s JobQueryService) Results(ctx domain.Context, id string) (JobResults, error) {
	job, err := s.Jobs.Get(ctx, id)
	if err != nil {
		return JobResults{}, err
	}
	if job.Status != domain.JobCompleted {
		return JobResults{}, fmt.Errorf("op=jobs.Results: job %s is %s: %w", id, job.Status, domain.ErrInvalidArgument)
	}
	risks, err := s.Jobs.ListRiskItems(ctx, id)
	if err != nil {
		return JobResults{}, err
	}
	return JobResults{Job: job, Risks: risks}, nil
}

// Snapshot returns the job's progress document. When no snapshot is stored
// (not started yet, or expired) one is synthesized from the job row.
func (s JobQueryService) Snapshot(ctx domain.Context, id string) (domain.ProgressSnapshot, error) {
	job, err := s.Jobs.Get(ctx, id)
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}
	snap, err := s.Progress.Get(ctx, id)
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}
	if snap != nil {
		return *snap, nil
	}
	return synthesizeSnapshot(job), nil
}

// VideoStream streams the job's source clip; the caller closes the reader.
// The returned video carries the original filename for the disposition
// header.
func (s JobQueryService) VideoStream(ctx domain.Context, jobID string) (io.ReadCloser, domain.Video, domain.BlobInfo, error) {
	video, err := s.jobVideo(ctx, jobID)
	if err != nil {
		return nil, domain.Video{}, domain.BlobInfo{}, err
	}
	rc, info, err := s.Blob.Get(ctx, video.BlobPath)
	if err != nil {
		return nil, domain.Video{}, domain.BlobInfo{}, err
	}
	return rc, video, info, nil
}

// VideoURL returns a presigned URL for the job's source clip.
func (s JobQueryService) VideoURL(ctx domain.Context, jobID string, expiry time.Duration) (string, error) {
	video, err := s.jobVideo(ctx, jobID)
	if err != nil {
		return "", err
	}
	return s.Blob.PresignGet(ctx, video.BlobPath, expiry)
}

func (s JobQueryService) jobVideo(ctx domain.Context, jobID string) (domain.Video, error) {
	job, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.Video{}, err
	}
	return s.Videos.Get(ctx, job.VideoID)
}

// synthesizeSnapshot rebuilds a stable snapshot from the job row for the
// windows where no live document exists.
func synthesizeSnapshot(job domain.AnalysisJob) domain.ProgressSnapshot {
	snap := domain.NewPendingSnapshot(job.ID)
	switch job.Status {
	case domain.JobCompleted:
		for _, p := range domain.Phases() {
			snap.Phases[p] = domain.PhaseProgress{Status: domain.PhaseCompleted, Progress: 100}
		}
		snap.Status = domain.JobCompleted
		snap.Overall = 100
		zero := 0.0
		snap.EstimatedRemainingSeconds = &zero
	case domain.JobFailed:
		snap.Status = domain.JobFailed
		snap.Error = job.ErrorMessage
	case domain.JobProcessing:
		snap.Status = domain.JobProcessing
	}
	return snap
}
