package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/univac-1/risk-analyzer/internal/domain"
)

// SessionRepo persists edit sessions and their actions using a minimal pgx
// pool. The schema enforces one session per job.
type SessionRepo struct{ Pool PgxPool }

// NewSessionRepo constructs a SessionRepo with the given pool.
func NewSessionRepo(p PgxPool) *SessionRepo { return &SessionRepo{Pool: p} }

// GetByJobID returns the job's session, ErrNotFound when none exists yet.
func (r *SessionRepo) GetByJobID(ctx domain.Context, jobID string) (domain.EditSession, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.GetByJobID")
	defer span.End()
	q := `SELECT id, job_id, status, created_at, updated_at FROM edit_sessions WHERE job_id=$1`
	row := r.Pool.QueryRow(ctx, q, jobID)
	var s domain.EditSession
	if err := row.Scan(&s.ID, &s.JobID, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EditSession{}, fmt.Errorf("op=session.get_by_job: %w", domain.ErrNotFound)
		}
		return domain.EditSession{}, fmt.Errorf("op=session.get_by_job: %w", err)
	}
	return s, nil
}

// Get returns the session by id, ErrNotFound when it does not exist.
func (r *SessionRepo) Get(ctx domain.Context, id string) (domain.EditSession, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.Get")
	defer span.End()
	q := `SELECT id, job_id, status, created_at, updated_at FROM edit_sessions WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var s domain.EditSession
	if err := row.Scan(&s.ID, &s.JobID, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EditSession{}, fmt.Errorf("op=session.get: %w", domain.ErrNotFound)
		}
		return domain.EditSession{}, fmt.Errorf("op=session.get: %w", err)
	}
	return s, nil
}

// Create inserts a new session row.
func (r *SessionRepo) Create(ctx domain.Context, s domain.EditSession) error {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.Create")
	defer span.End()
	now := time.Now().UTC()
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	q := `INSERT INTO edit_sessions (id, job_id, status, created_at, updated_at) VALUES ($1,$2,$3,$4,$5)`
	if _, err := r.Pool.Exec(ctx, q, s.ID, s.JobID, s.Status, createdAt, now); err != nil {
		return fmt.Errorf("op=session.create: %w", err)
	}
	return nil
}

// UpdateStatus sets the session status.
func (r *SessionRepo) UpdateStatus(ctx domain.Context, id string, status domain.SessionStatus) error {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.UpdateStatus")
	defer span.End()
	q := `UPDATE edit_sessions SET status=$2, updated_at=$3 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=session.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=session.update_status: %w", domain.ErrNotFound)
	}
	return nil
}

// ListActions returns the session's actions ordered by start second.
func (r *SessionRepo) ListActions(ctx domain.Context, sessionID string) ([]domain.EditAction, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.ListActions")
	defer span.End()
	q := `SELECT id, session_id, type, start_sec, end_sec, risk_item_id, mosaic, telop, created_at, updated_at
		FROM edit_actions WHERE session_id=$1 ORDER BY start_sec ASC, end_sec ASC`
	rows, err := r.Pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("op=session.list_actions: %w", err)
	}
	defer rows.Close()
	actions := make([]domain.EditAction, 0, 8)
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("op=session.list_actions_scan: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=session.list_actions_rows: %w", err)
	}
	return actions, nil
}

// ApplyActionDiff upserts and deletes actions in one transaction and bumps
// the session's updated_at.
func (r *SessionRepo) ApplyActionDiff(ctx domain.Context, sessionID string, upserts []domain.EditAction, deleteIDs []string) error {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.ApplyActionDiff")
	defer span.End()
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=session.apply_diff: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	upsert := `INSERT INTO edit_actions (id, session_id, type, start_sec, end_sec, risk_item_id, mosaic, telop, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
		ON CONFLICT (id) DO UPDATE SET
			type=EXCLUDED.type, start_sec=EXCLUDED.start_sec, end_sec=EXCLUDED.end_sec,
			risk_item_id=EXCLUDED.risk_item_id, mosaic=EXCLUDED.mosaic, telop=EXCLUDED.telop,
			updated_at=EXCLUDED.updated_at
		WHERE edit_actions.session_id=EXCLUDED.session_id`
	for _, a := range upserts {
		mosaic, err := marshalOptions(a.Mosaic)
		if err != nil {
			return fmt.Errorf("op=session.apply_diff: mosaic: %w", err)
		}
		telop, err := marshalOptions(a.Telop)
		if err != nil {
			return fmt.Errorf("op=session.apply_diff: telop: %w", err)
		}
		if _, err := tx.Exec(ctx, upsert,
			a.ID, sessionID, a.Type, a.StartSec, a.EndSec, a.RiskItemID, mosaic, telop, now); err != nil {
			return fmt.Errorf("op=session.apply_diff: upsert: %w", err)
		}
	}
	if len(deleteIDs) > 0 {
		if _, err := tx.Exec(ctx,
			`DELETE FROM edit_actions WHERE session_id=$1 AND id = ANY($2)`, sessionID, deleteIDs); err != nil {
			return fmt.Errorf("op=session.apply_diff: delete: %w", err)
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE edit_sessions SET updated_at=$2 WHERE id=$1`, sessionID, now); err != nil {
		return fmt.Errorf("op=session.apply_diff: touch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=session.apply_diff: commit: %w", err)
	}
	return nil
}

func scanAction(rows pgx.Rows) (domain.EditAction, error) {
	var a domain.EditAction
	var mosaic, telop []byte
	if err := rows.Scan(&a.ID, &a.SessionID, &a.Type, &a.StartSec, &a.EndSec,
		&a.RiskItemID, &mosaic, &telop, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return domain.EditAction{}, err
	}
	if len(mosaic) > 0 {
		a.Mosaic = &domain.MosaicOptions{}
		if err := json.Unmarshal(mosaic, a.Mosaic); err != nil {
			return domain.EditAction{}, err
		}
	}
	if len(telop) > 0 {
		a.Telop = &domain.TelopOptions{}
		if err := json.Unmarshal(telop, a.Telop); err != nil {
			return domain.EditAction{}, err
		}
	}
	return a, nil
}

func marshalOptions(v any) ([]byte, error) {
	switch o := v.(type) {
	case *domain.MosaicOptions:
		if o == nil {
			return nil, nil
		}
	case *domain.TelopOptions:
		if o == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
