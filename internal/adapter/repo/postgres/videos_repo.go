package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/univac-1/risk-analyzer/internal/domain"
)

// VideoRepo persists ingested videos using a minimal pgx pool.
type VideoRepo struct{ Pool PgxPool }

// NewVideoRepo constructs a VideoRepo with the given pool.
func NewVideoRepo(p PgxPool) *VideoRepo { return &VideoRepo{Pool: p} }

// Create inserts a new video row.
func (r *VideoRepo) Create(ctx domain.Context, v domain.Video) error {
	tracer := otel.Tracer("repo.videos")
	ctx, span := tracer.Start(ctx, "videos.Create")
	defer span.End()
	createdAt := v.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	q := `INSERT INTO videos (id, blob_path, original_name, size_bytes, duration_sec, created_at) VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := r.Pool.Exec(ctx, q, v.ID, v.BlobPath, v.OriginalName, v.SizeBytes, v.DurationSec, createdAt)
	if err != nil {
		return fmt.Errorf("op=video.create: %w", err)
	}
	return nil
}

// Get loads a video by id.
func (r *VideoRepo) Get(ctx domain.Context, id string) (domain.Video, error) {
	tracer := otel.Tracer("repo.videos")
	ctx, span := tracer.Start(ctx, "videos.Get")
	defer span.End()
	q := `SELECT id, blob_path, original_name, size_bytes, duration_sec, created_at FROM videos WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var v domain.Video
	if err := row.Scan(&v.ID, &v.BlobPath, &v.OriginalName, &v.SizeBytes, &v.DurationSec, &v.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Video{}, fmt.Errorf("op=video.get: %w", domain.ErrNotFound)
		}
		return domain.Video{}, fmt.Errorf("op=video.get: %w", err)
	}
	return v, nil
}

// Delete removes a video row. Jobs referencing it cascade.
func (r *VideoRepo) Delete(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.videos")
	ctx, span := tracer.Start(ctx, "videos.Delete")
	defer span.End()
	_, err := r.Pool.Exec(ctx, `DELETE FROM videos WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("op=video.delete: %w", err)
	}
	return nil
}
