package usecase

import (
	"log/slog"
	"time"

	"github.com/univac-1/risk-analyzer/internal/domain"
	"github.com/univac-1/risk-analyzer/internal/observability"
)

const retentionBatchSize = 100

// RetentionService removes finished jobs, their blobs and their progress
// snapshots once they are older than MaxAge.
type RetentionService struct {
	Jobs     domain.JobRepository
	Videos   domain.VideoRepository
	Blob     domain.BlobStore
	Progress domain.ProgressStore

	MaxAge time.Duration
}

// NewRetentionService constructs a RetentionService.
func NewRetentionService(jobs domain.JobRepository, videos domain.VideoRepository, blob domain.BlobStore, progress domain.ProgressStore, maxAge time.Duration) RetentionService {
	return RetentionService{Jobs: jobs, Videos: videos, Blob: blob, Progress: progress, MaxAge: maxAge}
}

// RunPeriodic sweeps on every tick until the context is canceled.
func (s RetentionService) RunPeriodic(ctx domain.Context, interval time.Duration) {
	lg := observability.LoggerFromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				lg.Error("retention sweep failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				lg.Info("retention sweep", slog.Int("removed", n))
			}
		}
	}
}

// Sweep deletes one batch of expired jobs and returns how many it removed.
// Blob and snapshot removal is best effort; the row delete cascades from
// the video.
func (s RetentionService) Sweep(ctx domain.Context) (int, error) {
	lg := observability.LoggerFromContext(ctx)
	cutoff := time.Now().UTC().Add(-s.MaxAge)
	jobs, err := s.Jobs.ListFinishedBefore(ctx, cutoff, retentionBatchSize)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, job := range jobs {
		if err := s.Blob.RemovePrefix(ctx, "exports/"+job.ID+"/"); err != nil {
			lg.Warn("retention: export blobs", slog.String("job_id", job.ID), slog.Any("error", err))
		}
		if err := s.Blob.Remove(ctx, VideoBlobPath(job.VideoID)); err != nil {
			lg.Warn("retention: video blob", slog.String("job_id", job.ID), slog.Any("error", err))
		}
		if err := s.Progress.Delete(ctx, job.ID); err != nil {
			lg.Warn("retention: progress", slog.String("job_id", job.ID), slog.Any("error", err))
		}
		if err := s.Videos.Delete(ctx, job.VideoID); err != nil {
			lg.Warn("retention: video row", slog.String("job_id", job.ID), slog.Any("error", err))
			continue
		}
		removed++
	}
	return removed, nil
}
