package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/univac-1/risk-analyzer/internal/domain"
	"github.com/univac-1/risk-analyzer/internal/observability"
)

const maxTelopTextLen = 500

var hexColorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// SessionWithActions pairs a session with its current action list.
type SessionWithActions struct {
	Session domain.EditSession
	Actions []domain.EditAction
}

// ActionSpec is one requested action in a full-set replacement. An empty
// ID means a new action; a non-empty ID must refer to an existing one.
type ActionSpec struct {
	ID         string
	Type       domain.EditActionType
	StartSec   float64
	EndSec     float64
	RiskItemID *string
	Mosaic     *domain.MosaicOptions
	Telop      *domain.TelopOptions
}

// EditSessionService manages the single edit workspace of a completed job.
type EditSessionService struct {
	Jobs     domain.JobRepository
	Sessions domain.EditSessionRepository
}

// NewEditSessionService constructs an EditSessionService.
func NewEditSessionService(jobs domain.JobRepository, sessions domain.EditSessionRepository) EditSessionService {
	return EditSessionService{Jobs: jobs, Sessions: sessions}
}

// GetOrCreate returns the job's session, creating it on first access.
// Only completed jobs can be edited.
func (s EditSessionService) GetOrCreate(ctx domain.Context, jobID string) (SessionWithActions, error) {
	session, err := s.ensureSession(ctx, jobID)
	if err != nil {
		return SessionWithActions{}, err
	}

	actions, err := s.Sessions.ListActions(ctx, session.ID)
	if err != nil {
		return SessionWithActions{}, err
	}
	return SessionWithActions{Session: session, Actions: actions}, nil
}

// ensureSession resolves the job's session, creating it when absent.
// Only completed jobs get a session.
func (s EditSessionService) ensureSession(ctx domain.Context, jobID string) (domain.EditSession, error) {
	job, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.EditSession{}, err
	}
	if job.Status != domain.JobCompleted {
		return domain.EditSession{}, fmt.Errorf("op=editsession.ensureSession: job %s is %s: %w",
			jobID, job.Status, domain.ErrConflict)
	}

	session, err := s.Sessions.GetByJobID(ctx, jobID)
	switch {
	case err == nil:
		return session, nil
	case errors.Is(err, domain.ErrNotFound):
	default:
		return domain.EditSession{}, err
	}

	now := time.Now().UTC()
	session = domain.EditSession{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Status:    domain.SessionEditing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Sessions.Create(ctx, session); err != nil {
		// Lost a create race: the unique job_id constraint kicked in.
		if errors.Is(err, domain.ErrConflict) {
			return s.Sessions.GetByJobID(ctx, jobID)
		}
		return domain.EditSession{}, err
	}
	observability.LoggerFromContext(ctx).Info("edit session created",
		slog.String("session_id", session.ID), slog.String("job_id", jobID))
	return session, nil
}

// UpdateActions replaces the session's full action set with specs,
// creating the session first when the job has none yet. Actions absent
// from specs are deleted; specs without an ID are created. The session
// must not be exporting.
func (s EditSessionService) UpdateActions(ctx domain.Context, jobID string, specs []ActionSpec) (SessionWithActions, error) {
	session, err := s.ensureSession(ctx, jobID)
	if err != nil {
		return SessionWithActions{}, err
	}
	if session.Status == domain.SessionExporting {
		return SessionWithActions{}, fmt.Errorf("op=editsession.UpdateActions: session %s is exporting: %w",
			session.ID, domain.ErrConflict)
	}

	existing, err := s.Sessions.ListActions(ctx, session.ID)
	if err != nil {
		return SessionWithActions{}, err
	}
	existingByID := make(map[string]domain.EditAction, len(existing))
	for _, a := range existing {
		existingByID[a.ID] = a
	}

	now := time.Now().UTC()
	upserts := make([]domain.EditAction, 0, len(specs))
	keep := make(map[string]bool, len(specs))
	for i, spec := range specs {
		if err := validateActionSpec(spec); err != nil {
			return SessionWithActions{}, fmt.Errorf("op=editsession.UpdateActions: action %d: %w", i, err)
		}
		action := domain.EditAction{
			ID:         spec.ID,
			SessionID:  session.ID,
			Type:       spec.Type,
			StartSec:   spec.StartSec,
			EndSec:     spec.EndSec,
			RiskItemID: spec.RiskItemID,
			UpdatedAt:  now,
		}
		if spec.Type == domain.ActionMosaic {
			action.Mosaic = spec.Mosaic
		}
		if spec.Type == domain.ActionTelop {
			action.Telop = spec.Telop
		}
		if spec.ID == "" {
			action.ID = uuid.New().String()
			action.CreatedAt = now
		} else {
			prev, ok := existingByID[spec.ID]
			if !ok {
				return SessionWithActions{}, fmt.Errorf("op=editsession.UpdateActions: action %d: unknown id %s: %w",
					i, spec.ID, domain.ErrInvalidArgument)
			}
			action.CreatedAt = prev.CreatedAt
			keep[spec.ID] = true
		}
		upserts = append(upserts, action)
	}

	var deleteIDs []string
	for _, a := range existing {
		if !keep[a.ID] {
			deleteIDs = append(deleteIDs, a.ID)
		}
	}

	if err := s.Sessions.ApplyActionDiff(ctx, session.ID, upserts, deleteIDs); err != nil {
		return SessionWithActions{}, err
	}
	// Re-export is possible again once the action set changed.
	if session.Status == domain.SessionCompleted {
		if err := s.Sessions.UpdateStatus(ctx, session.ID, domain.SessionEditing); err != nil {
			return SessionWithActions{}, err
		}
		session.Status = domain.SessionEditing
	}

	actions, err := s.Sessions.ListActions(ctx, session.ID)
	if err != nil {
		return SessionWithActions{}, err
	}
	observability.LoggerFromContext(ctx).Info("edit actions updated",
		slog.String("session_id", session.ID),
		slog.Int("upserts", len(upserts)),
		slog.Int("deletes", len(deleteIDs)))
	return SessionWithActions{Session: session, Actions: actions}, nil
}

func validateActionSpec(spec ActionSpec) error {
	if !domain.ValidEditActionType(spec.Type) {
		return fmt.Errorf("unknown action type %q: %w", spec.Type, domain.ErrInvalidArgument)
	}
	if spec.StartSec < 0 || spec.EndSec <= spec.StartSec {
		return fmt.Errorf("invalid time range [%g, %g]: %w", spec.StartSec, spec.EndSec, domain.ErrInvalidArgument)
	}
	switch spec.Type {
	case domain.ActionMosaic:
		if spec.Mosaic == nil {
			return fmt.Errorf("mosaic action requires mosaic options: %w", domain.ErrInvalidArgument)
		}
		if spec.Mosaic.X < 0 || spec.Mosaic.Y < 0 {
			return fmt.Errorf("mosaic region must not leave the frame: %w", domain.ErrInvalidArgument)
		}
		if spec.Mosaic.Width <= 0 || spec.Mosaic.Height <= 0 {
			return fmt.Errorf("mosaic region must have positive size: %w", domain.ErrInvalidArgument)
		}
		// Zero means "use the render default"; anything else must be in range.
		if spec.Mosaic.BlurStrength != 0 && (spec.Mosaic.BlurStrength < 1 || spec.Mosaic.BlurStrength > 100) {
			return fmt.Errorf("mosaic blur strength %d outside [1,100]: %w",
				spec.Mosaic.BlurStrength, domain.ErrInvalidArgument)
		}
	case domain.ActionTelop:
		if spec.Telop == nil || spec.Telop.Text == "" {
			return fmt.Errorf("telop action requires telop text: %w", domain.ErrInvalidArgument)
		}
		if utf8.RuneCountInString(spec.Telop.Text) > maxTelopTextLen {
			return fmt.Errorf("telop text longer than %d characters: %w", maxTelopTextLen, domain.ErrInvalidArgument)
		}
		if spec.Telop.X < 0 || spec.Telop.Y < 0 {
			return fmt.Errorf("telop position must not leave the frame: %w", domain.ErrInvalidArgument)
		}
		// Zero font size and empty colors fall back to the render defaults.
		if spec.Telop.FontSize < 0 || spec.Telop.FontSize > 200 {
			return fmt.Errorf("telop font size %d outside [1,200]: %w",
				spec.Telop.FontSize, domain.ErrInvalidArgument)
		}
		if spec.Telop.FontColor != "" && !hexColorRe.MatchString(spec.Telop.FontColor) {
			return fmt.Errorf("telop font color %q is not #RRGGBB: %w",
				spec.Telop.FontColor, domain.ErrInvalidArgument)
		}
		if spec.Telop.BackgroundColor != "" && !hexColorRe.MatchString(spec.Telop.BackgroundColor) {
			return fmt.Errorf("telop background color %q is not #RRGGBB: %w",
				spec.Telop.BackgroundColor, domain.ErrInvalidArgument)
		}
	default:
		if spec.Mosaic != nil || spec.Telop != nil {
			return fmt.Errorf("%s action takes no options: %w", spec.Type, domain.ErrInvalidArgument)
		}
	}
	return nil
}
