package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/univac-1/risk-analyzer/internal/domain"
)

// ExportRepo persists export jobs using a minimal pgx pool. Re-exports
// insert new rows; the latest row per session wins.
type ExportRepo struct{ Pool PgxPool }

// NewExportRepo constructs an ExportRepo with the given pool.
func NewExportRepo(p PgxPool) *ExportRepo { return &ExportRepo{Pool: p} }

const exportColumns = `id, session_id, status, output_blob_path, COALESCE(error,''), created_at, completed_at`

// Create inserts a new export row.
func (r *ExportRepo) Create(ctx domain.Context, e domain.ExportJob) error {
	tracer := otel.Tracer("repo.exports")
	ctx, span := tracer.Start(ctx, "exports.Create")
	defer span.End()
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	q := `INSERT INTO exports (id, session_id, status, output_blob_path, error, created_at) VALUES ($1,$2,$3,$4,$5,$6)`
	if _, err := r.Pool.Exec(ctx, q, e.ID, e.SessionID, e.Status, e.OutputBlobPath, e.ErrorMessage, createdAt); err != nil {
		return fmt.Errorf("op=export.create: %w", err)
	}
	return nil
}

// Get loads an export by id.
func (r *ExportRepo) Get(ctx domain.Context, id string) (domain.ExportJob, error) {
	tracer := otel.Tracer("repo.exports")
	ctx, span := tracer.Start(ctx, "exports.Get")
	defer span.End()
	row := r.Pool.QueryRow(ctx, `SELECT `+exportColumns+` FROM exports WHERE id=$1`, id)
	return scanExport(row, "op=export.get")
}

// Latest returns the most recent export for the session.
func (r *ExportRepo) Latest(ctx domain.Context, sessionID string) (domain.ExportJob, error) {
	tracer := otel.Tracer("repo.exports")
	ctx, span := tracer.Start(ctx, "exports.Latest")
	defer span.End()
	q := `SELECT ` + exportColumns + ` FROM exports WHERE session_id=$1 ORDER BY created_at DESC LIMIT 1`
	row := r.Pool.QueryRow(ctx, q, sessionID)
	return scanExport(row, "op=export.latest")
}

// LatestCompleted returns the most recent completed export for the session.
func (r *ExportRepo) LatestCompleted(ctx domain.Context, sessionID string) (domain.ExportJob, error) {
	tracer := otel.Tracer("repo.exports")
	ctx, span := tracer.Start(ctx, "exports.LatestCompleted")
	defer span.End()
	q := `SELECT ` + exportColumns + ` FROM exports WHERE session_id=$1 AND status=$2 ORDER BY created_at DESC LIMIT 1`
	row := r.Pool.QueryRow(ctx, q, sessionID, domain.ExportCompleted)
	return scanExport(row, "op=export.latest_completed")
}

// MarkProcessing transitions an export to processing.
func (r *ExportRepo) MarkProcessing(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.exports")
	ctx, span := tracer.Start(ctx, "exports.MarkProcessing")
	defer span.End()
	q := `UPDATE exports SET status=$2 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, domain.ExportProcessing)
	if err != nil {
		return fmt.Errorf("op=export.mark_processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=export.mark_processing: %w", domain.ErrNotFound)
	}
	return nil
}

// Complete records the output blob path and stamps completed_at.
func (r *ExportRepo) Complete(ctx domain.Context, id string, outputBlobPath string) error {
	tracer := otel.Tracer("repo.exports")
	ctx, span := tracer.Start(ctx, "exports.Complete")
	defer span.End()
	q := `UPDATE exports SET status=$2, output_blob_path=$3, error='', completed_at=$4 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, domain.ExportCompleted, outputBlobPath, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=export.complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=export.complete: %w", domain.ErrNotFound)
	}
	return nil
}

// Fail stamps completed_at and records the operator-facing message.
func (r *ExportRepo) Fail(ctx domain.Context, id string, errMsg string) error {
	tracer := otel.Tracer("repo.exports")
	ctx, span := tracer.Start(ctx, "exports.Fail")
	defer span.End()
	q := `UPDATE exports SET status=$2, error=$3, completed_at=$4 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, domain.ExportFailed, errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=export.fail: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=export.fail: %w", domain.ErrNotFound)
	}
	return nil
}

func scanExport(row pgx.Row, op string) (domain.ExportJob, error) {
	var e domain.ExportJob
	if err := row.Scan(&e.ID, &e.SessionID, &e.Status, &e.OutputBlobPath, &e.ErrorMessage, &e.CreatedAt, &e.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExportJob{}, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		}
		return domain.ExportJob{}, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}
