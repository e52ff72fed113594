// Package usecase contains the application services driving the analysis,
// editing and export pipelines. Services depend only on domain ports.
package usecase

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/univac-1/risk-analyzer/internal/domain"
	"github.com/univac-1/risk-analyzer/internal/observability"
)

// VideoBlobPath is where an ingested source clip lives in the blob store.
func VideoBlobPath(videoID string) string {
	return fmt.Sprintf("videos/%s.mp4", videoID)
}

// ExportBlobPath is where a rendered export lives in the blob store.
func ExportBlobPath(jobID, exportID string) string {
	return fmt.Sprintf("exports/%s/%s.mp4", jobID, exportID)
}

// IngestService accepts a validated upload, stores the clip and enqueues
// its analysis job.
type IngestService struct {
	Videos   domain.VideoRepository
	Jobs     domain.JobRepository
	Blob     domain.BlobStore
	Progress domain.ProgressStore
	Queue    domain.Queue
}

// NewIngestService constructs an IngestService.
func NewIngestService(videos domain.VideoRepository, jobs domain.JobRepository, blob domain.BlobStore, progress domain.ProgressStore, queue domain.Queue) IngestService {
	return IngestService{Videos: videos, Jobs: jobs, Blob: blob, Progress: progress, Queue: queue}
}

// Ingest stores the clip bytes, creates the video and job rows, seeds the
// progress snapshot and enqueues the analysis task. Failures after the
// blob write roll the partial state back.
func (s IngestService) Ingest(ctx domain.Context, r io.Reader, size int64, contentType, originalName string, meta domain.VideoMetadata) (domain.AnalysisJob, error) {
	lg := observability.LoggerFromContext(ctx)

	videoID := uuid.New().String()
	blobPath := VideoBlobPath(videoID)
	if err := s.Blob.Put(ctx, blobPath, r, size, contentType); err != nil {
		return domain.AnalysisJob{}, fmt.Errorf("op=ingest: store blob: %w", err)
	}

	now := time.Now().UTC()
	video := domain.Video{
		ID:           videoID,
		BlobPath:     blobPath,
		OriginalName: originalName,
		SizeBytes:    size,
		CreatedAt:    now,
	}
	if err := s.Videos.Create(ctx, video); err != nil {
		s.rollbackBlob(ctx, blobPath)
		return domain.AnalysisJob{}, err
	}

	job := domain.AnalysisJob{
		ID:        uuid.New().String(),
		VideoID:   videoID,
		Status:    domain.JobPending,
		Metadata:  meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Jobs.Create(ctx, job); err != nil {
		if derr := s.Videos.Delete(ctx, videoID); derr != nil {
			lg.Warn("ingest rollback: video row", slog.Any("error", derr))
		}
		s.rollbackBlob(ctx, blobPath)
		return domain.AnalysisJob{}, err
	}

	if err := s.Progress.Init(ctx, job.ID); err != nil {
		lg.Warn("ingest: progress init failed", slog.String("job_id", job.ID), slog.Any("error", err))
	}

	if err := s.Queue.EnqueueAnalysis(ctx, job.ID); err != nil {
		if ferr := s.Jobs.Fail(ctx, job.ID, "enqueue failed"); ferr != nil {
			lg.Warn("ingest rollback: fail job", slog.Any("error", ferr))
		}
		return domain.AnalysisJob{}, fmt.Errorf("op=ingest: enqueue: %w", err)
	}

	lg.Info("video ingested",
		slog.String("job_id", job.ID),
		slog.String("video_id", videoID),
		slog.Int64("size_bytes", size))
	return job, nil
}

func (s IngestService) rollbackBlob(ctx domain.Context, blobPath string) {
	if err := s.Blob.Remove(ctx, blobPath); err != nil {
		observability.LoggerFromContext(ctx).Warn("ingest rollback: blob", slog.Any("error", err))
	}
}
