package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/univac-1/risk-analyzer/internal/domain"
)

// JobRepo persists analysis jobs and their risk items using a minimal pgx
// pool.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

const jobColumns = `id, video_id, status, purpose, platform, target_audience,
	overall_score, risk_level, audio_result, ocr_result, video_result,
	COALESCE(error,''), created_at, updated_at, completed_at`

// Create inserts a new job row.
func (r *JobRepo) Create(ctx domain.Context, j domain.AnalysisJob) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	now := time.Now().UTC()
	createdAt := j.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	q := `INSERT INTO analysis_jobs (id, video_id, status, purpose, platform, target_audience, error, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := r.Pool.Exec(ctx, q,
		j.ID, j.VideoID, j.Status,
		j.Metadata.Purpose, j.Metadata.Platform, j.Metadata.TargetAudience,
		j.ErrorMessage, createdAt, now)
	if err != nil {
		return fmt.Errorf("op=job.create: %w", err)
	}
	return nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.AnalysisJob, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	row := r.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id=$1`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AnalysisJob{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.AnalysisJob{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// List returns jobs newest first.
func (r *JobRepo) List(ctx domain.Context, offset, limit int) ([]domain.AnalysisJob, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.List")
	defer span.End()
	q := `SELECT ` + jobColumns + ` FROM analysis_jobs ORDER BY created_at DESC OFFSET $1 LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("op=job.list: %w", err)
	}
	return collectJobs(rows, "op=job.list")
}

// ListByStatus pages jobs in a given status, oldest update first.
func (r *JobRepo) ListByStatus(ctx domain.Context, status domain.JobStatus, offset, limit int) ([]domain.AnalysisJob, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListByStatus")
	defer span.End()
	q := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE status=$1 ORDER BY updated_at ASC OFFSET $2 LIMIT $3`
	rows, err := r.Pool.Query(ctx, q, status, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("op=job.list_by_status: %w", err)
	}
	return collectJobs(rows, "op=job.list_by_status")
}

// MarkProcessing transitions a job to processing.
func (r *JobRepo) MarkProcessing(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.MarkProcessing")
	defer span.End()
	q := `UPDATE analysis_jobs SET status=$2, updated_at=$3 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, domain.JobProcessing, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=job.mark_processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.mark_processing: %w", domain.ErrNotFound)
	}
	return nil
}

// Complete records the fused score and level and stamps completed_at.
func (r *JobRepo) Complete(ctx domain.Context, id string, overallScore float64, level domain.RiskLevel) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Complete")
	defer span.End()
	now := time.Now().UTC()
	q := `UPDATE analysis_jobs SET status=$2, overall_score=$3, risk_level=$4, error='', updated_at=$5, completed_at=$5 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, domain.JobCompleted, overallScore, level, now)
	if err != nil {
		return fmt.Errorf("op=job.complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.complete: %w", domain.ErrNotFound)
	}
	return nil
}

// Fail stamps completed_at and records the operator-facing message.
func (r *JobRepo) Fail(ctx domain.Context, id string, errMsg string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Fail")
	defer span.End()
	now := time.Now().UTC()
	q := `UPDATE analysis_jobs SET status=$2, error=$3, updated_at=$4, completed_at=$4 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, domain.JobFailed, errMsg, now)
	if err != nil {
		return fmt.Errorf("op=job.fail: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.fail: %w", domain.ErrNotFound)
	}
	return nil
}

// SetPhaseResult stores a phase's raw result document on the job row.
func (r *JobRepo) SetPhaseResult(ctx domain.Context, id string, phase domain.Phase, result []byte) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.SetPhaseResult")
	defer span.End()
	var col string
	switch phase {
	case domain.PhaseAudio:
		col = "audio_result"
	case domain.PhaseOCR:
		col = "ocr_result"
	case domain.PhaseVideo:
		col = "video_result"
	default:
		return fmt.Errorf("op=job.set_phase_result: phase %q: %w", phase, domain.ErrInvalidArgument)
	}
	q := `UPDATE analysis_jobs SET ` + col + `=$2, updated_at=$3 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, result, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=job.set_phase_result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.set_phase_result: %w", domain.ErrNotFound)
	}
	return nil
}

// ReplaceRiskItems atomically swaps the job's risk items for items.
func (r *JobRepo) ReplaceRiskItems(ctx domain.Context, jobID string, items []domain.RiskItem) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ReplaceRiskItems")
	defer span.End()
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=job.replace_risk_items: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM risk_items WHERE job_id=$1`, jobID); err != nil {
		return fmt.Errorf("op=job.replace_risk_items: delete: %w", err)
	}
	insert := `INSERT INTO risk_items (id, job_id, start_sec, end_sec, category, subcategory, score, level, rationale, source, evidence, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	now := time.Now().UTC()
	for _, it := range items {
		id := it.ID
		if id == "" {
			id = uuid.New().String()
		}
		createdAt := it.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := tx.Exec(ctx, insert,
			id, jobID, it.StartSec, it.EndSec, it.Category, it.Subcategory,
			it.Score, it.Level, it.Rationale, it.Source, it.Evidence, createdAt); err != nil {
			return fmt.Errorf("op=job.replace_risk_items: insert: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=job.replace_risk_items: commit: %w", err)
	}
	return nil
}

// ListRiskItems returns the job's risk items ordered by start second.
func (r *JobRepo) ListRiskItems(ctx domain.Context, jobID string) ([]domain.RiskItem, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListRiskItems")
	defer span.End()
	q := `SELECT id, job_id, start_sec, end_sec, category, subcategory, score, level, rationale, source, evidence, created_at
		FROM risk_items WHERE job_id=$1 ORDER BY start_sec ASC, end_sec ASC`
	rows, err := r.Pool.Query(ctx, q, jobID)
	if err != nil {
		return nil, fmt.Errorf("op=job.list_risk_items: %w", err)
	}
	defer rows.Close()
	items := make([]domain.RiskItem, 0, 8)
	for rows.Next() {
		var it domain.RiskItem
		if err := rows.Scan(&it.ID, &it.JobID, &it.StartSec, &it.EndSec, &it.Category, &it.Subcategory,
			&it.Score, &it.Level, &it.Rationale, &it.Source, &it.Evidence, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=job.list_risk_items_scan: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.list_risk_items_rows: %w", err)
	}
	return items, nil
}

// ListFinishedBefore pages terminal jobs completed before cutoff, oldest
// first, for retention cleanup.
func (r *JobRepo) ListFinishedBefore(ctx domain.Context, cutoff time.Time, limit int) ([]domain.AnalysisJob, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListFinishedBefore")
	defer span.End()
	q := `SELECT ` + jobColumns + ` FROM analysis_jobs
		WHERE completed_at IS NOT NULL AND completed_at < $1
		ORDER BY completed_at ASC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("op=job.list_finished_before: %w", err)
	}
	return collectJobs(rows, "op=job.list_finished_before")
}

// Delete removes a job row. Risk items, sessions and exports cascade.
func (r *JobRepo) Delete(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Delete")
	defer span.End()
	if _, err := r.Pool.Exec(ctx, `DELETE FROM analysis_jobs WHERE id=$1`, id); err != nil {
		return fmt.Errorf("op=job.delete: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (domain.AnalysisJob, error) {
	var j domain.AnalysisJob
	var level *string
	if err := row.Scan(&j.ID, &j.VideoID, &j.Status,
		&j.Metadata.Purpose, &j.Metadata.Platform, &j.Metadata.TargetAudience,
		&j.OverallScore, &level,
		&j.AudioResult, &j.OCRResult, &j.VideoResult,
		&j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt); err != nil {
		return domain.AnalysisJob{}, err
	}
	if level != nil {
		lv := domain.RiskLevel(*level)
		j.RiskLevel = &lv
	}
	return j, nil
}

func collectJobs(rows pgx.Rows, op string) ([]domain.AnalysisJob, error) {
	defer rows.Close()
	jobs := make([]domain.AnalysisJob, 0, 16)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%s_scan: %w", op, err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s_rows: %w", op, err)
	}
	return jobs, nil
}
