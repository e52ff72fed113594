package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/univac-1/risk-analyzer/internal/domain"
	"github.com/univac-1/risk-analyzer/internal/observability"
	"github.com/univac-1/risk-analyzer/internal/service/filtergraph"
)

// ExportStatusView pairs the latest export with its live progress.
type ExportStatusView struct {
	Export   domain.ExportJob
	Progress *domain.ExportProgress
}

// ExportService accepts export requests against a job's edit session and
// reports their status. Rendering happens in ExportRunner.
type ExportService struct {
	Sessions domain.EditSessionRepository
	Exports  domain.ExportRepository
	Progress domain.ProgressStore
	Queue    domain.Queue
	Blob     domain.BlobStore
}

// NewExportService constructs an ExportService.
func NewExportService(sessions domain.EditSessionRepository, exports domain.ExportRepository, progress domain.ProgressStore, queue domain.Queue, blob domain.BlobStore) ExportService {
	return ExportService{Sessions: sessions, Exports: exports, Progress: progress, Queue: queue, Blob: blob}
}

// Request creates a pending export for the job's session and enqueues the
// render. A session with an active export rejects new requests.
func (s ExportService) Request(ctx domain.Context, jobID string) (domain.ExportJob, error) {
	session, err := s.Sessions.GetByJobID(ctx, jobID)
	if err != nil {
		return domain.ExportJob{}, err
	}

	latest, err := s.Exports.Latest(ctx, session.ID)
	switch {
	case err == nil:
		if latest.Status.Active() {
			return domain.ExportJob{}, fmt.Errorf("op=export.Request: export %s is %s: %w",
				latest.ID, latest.Status, domain.ErrConflict)
		}
	case errors.Is(err, domain.ErrNotFound):
	default:
		return domain.ExportJob{}, err
	}

	exp := domain.ExportJob{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		Status:    domain.ExportPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Exports.Create(ctx, exp); err != nil {
		return domain.ExportJob{}, err
	}
	if err := s.Progress.InitExport(ctx, exp.ID); err != nil {
		observability.LoggerFromContext(ctx).Warn("export progress init failed",
			slog.String("export_id", exp.ID), slog.Any("error", err))
	}
	if err := s.Sessions.UpdateStatus(ctx, session.ID, domain.SessionExporting); err != nil {
		return domain.ExportJob{}, err
	}

	if err := s.Queue.EnqueueExport(ctx, exp.ID); err != nil {
		lg := observability.LoggerFromContext(ctx)
		if ferr := s.Exports.Fail(ctx, exp.ID, "enqueue failed"); ferr != nil {
			lg.Warn("export rollback: fail export", slog.Any("error", ferr))
		}
		if serr := s.Sessions.UpdateStatus(ctx, session.ID, domain.SessionEditing); serr != nil {
			lg.Warn("export rollback: session status", slog.Any("error", serr))
		}
		return domain.ExportJob{}, fmt.Errorf("op=export.Request: enqueue: %w", err)
	}

	observability.LoggerFromContext(ctx).Info("export requested",
		slog.String("export_id", exp.ID), slog.String("session_id", session.ID))
	return exp, nil
}

// Status returns the job's latest export and its progress document.
func (s ExportService) Status(ctx domain.Context, jobID string) (ExportStatusView, error) {
	session, err := s.Sessions.GetByJobID(ctx, jobID)
	if err != nil {
		return ExportStatusView{}, err
	}
	exp, err := s.Exports.Latest(ctx, session.ID)
	if err != nil {
		return ExportStatusView{}, err
	}
	prog, err := s.Progress.GetExport(ctx, exp.ID)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("export progress read failed",
			slog.String("export_id", exp.ID), slog.Any("error", err))
		prog = nil
	}
	return ExportStatusView{Export: exp, Progress: prog}, nil
}

// DownloadURL presigns the most recent completed export of the job's
// session.
func (s ExportService) DownloadURL(ctx domain.Context, jobID string, expiry time.Duration) (string, error) {
	session, err := s.Sessions.GetByJobID(ctx, jobID)
	if err != nil {
		return "", err
	}
	exp, err := s.Exports.LatestCompleted(ctx, session.ID)
	if err != nil {
		return "", err
	}
	if exp.OutputBlobPath == nil {
		return "", fmt.Errorf("op=export.DownloadURL: export %s has no output: %w",
			exp.ID, domain.ErrInternal)
	}
	return s.Blob.PresignGet(ctx, *exp.OutputBlobPath, expiry)
}

// ExportRunner renders one export task end to end inside the worker.
type ExportRunner struct {
	Jobs     domain.JobRepository
	Videos   domain.VideoRepository
	Sessions domain.EditSessionRepository
	Exports  domain.ExportRepository
	Blob     domain.BlobStore
	Progress domain.ProgressStore
	Media    MediaProcessor
	Compiler *filtergraph.Compiler

	ScratchDir    string
	RenderTimeout time.Duration
}

// Run renders the export. Redelivery of a terminal export is a no-op.
// Errors leave the export non-terminal so the queue's retry policy can
// redeliver; MarkFailed finalizes after retries are exhausted.
func (r ExportRunner) Run(ctx domain.Context, exportID string) error {
	lg := observability.LoggerFromContext(ctx).With(slog.String("export_id", exportID))
	ctx = observability.ContextWithLogger(ctx, lg)

	exp, err := r.Exports.Get(ctx, exportID)
	if err != nil {
		return err
	}
	if exp.Status == domain.ExportCompleted || exp.Status == domain.ExportFailed {
		lg.Info("export already terminal, skipping", slog.String("status", string(exp.Status)))
		return nil
	}

	session, err := r.Sessions.Get(ctx, exp.SessionID)
	if err != nil {
		return err
	}
	job, err := r.Jobs.Get(ctx, session.JobID)
	if err != nil {
		return err
	}
	video, err := r.Videos.Get(ctx, job.VideoID)
	if err != nil {
		return err
	}

	if err := r.Exports.MarkProcessing(ctx, exportID); err != nil {
		return err
	}
	r.updateProgress(ctx, exportID, domain.ExportProcessing, 0)

	workDir, err := os.MkdirTemp(r.ScratchDir, "export-")
	if err != nil {
		return fmt.Errorf("op=export.Run: scratch dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	sourcePath := filepath.Join(workDir, "source.mp4")
	if err := r.Blob.Download(ctx, video.BlobPath, sourcePath); err != nil {
		return fmt.Errorf("op=export.Run: download: %w", err)
	}

	actions, err := r.Sessions.ListActions(ctx, session.ID)
	if err != nil {
		return err
	}
	graph := r.Compiler.Build(actions)

	info, err := r.Media.Probe(ctx, sourcePath)
	if err != nil {
		lg.Warn("probe failed, rendering without frame estimate", slog.Any("error", err))
	}

	rctx, cancel := context.WithTimeout(ctx, r.RenderTimeout)
	defer cancel()
	outputPath := filepath.Join(workDir, "output.mp4")
	lastPct := -1.0
	err = r.Media.Render(rctx, RenderSpec{
		InputPath:   sourcePath,
		OutputPath:  outputPath,
		Graph:       graph,
		TotalFrames: info.TotalFrames,
		DurationSec: info.DurationSec,
		OnProgress: func(pct float64) {
			if pct-lastPct < 1 {
				return
			}
			lastPct = pct
			r.updateProgress(ctx, exportID, domain.ExportProcessing, pct)
		},
	})
	if err != nil {
		return fmt.Errorf("op=export.Run: render: %w", err)
	}

	blobPath := ExportBlobPath(session.JobID, exportID)
	if err := r.uploadOutput(ctx, outputPath, blobPath); err != nil {
		return err
	}

	if err := r.Exports.Complete(ctx, exportID, blobPath); err != nil {
		return err
	}
	if err := r.Progress.CompleteExport(ctx, exportID); err != nil {
		lg.Warn("export progress complete failed", slog.Any("error", err))
	}
	if err := r.Sessions.UpdateStatus(ctx, session.ID, domain.SessionCompleted); err != nil {
		lg.Warn("session status update failed", slog.Any("error", err))
	}

	lg.Info("export completed", slog.String("blob_path", blobPath), slog.Int("actions", len(actions)))
	return nil
}

// MarkFailed finalizes an export whose retries are exhausted and returns
// the session to editing.
func (r ExportRunner) MarkFailed(ctx domain.Context, exportID, msg string) {
	lg := observability.LoggerFromContext(ctx).With(slog.String("export_id", exportID))
	if err := r.Exports.Fail(ctx, exportID, msg); err != nil {
		lg.Warn("export fail write failed", slog.Any("error", err))
	}
	if err := r.Progress.FailExport(ctx, exportID, msg); err != nil {
		lg.Warn("export progress fail failed", slog.Any("error", err))
	}
	exp, err := r.Exports.Get(ctx, exportID)
	if err != nil {
		lg.Warn("export lookup failed", slog.Any("error", err))
		return
	}
	if err := r.Sessions.UpdateStatus(ctx, exp.SessionID, domain.SessionEditing); err != nil {
		lg.Warn("session status update failed", slog.Any("error", err))
	}
}

func (r ExportRunner) uploadOutput(ctx domain.Context, localPath, blobPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("op=export.Run: open output: %w", err)
	}
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("op=export.Run: stat output: %w", err)
	}
	if err := r.Blob.Put(ctx, blobPath, io.Reader(f), st.Size(), "video/mp4"); err != nil {
		return fmt.Errorf("op=export.Run: upload: %w", err)
	}
	return nil
}

func (r ExportRunner) updateProgress(ctx domain.Context, exportID string, status domain.ExportStatus, pct float64) {
	if err := r.Progress.UpdateExport(ctx, exportID, status, pct); err != nil {
		observability.LoggerFromContext(ctx).Warn("export progress update failed",
			slog.String("export_id", exportID), slog.Any("error", err))
	}
}
