package domain

import (
	"io"
	"time"
)

// Repositories (ports)

type VideoRepository interface {
	Create(ctx Context, v Video) error
	Get(ctx Context, id string) (Video, error)
	Delete(ctx Context, id string) error
}

type JobRepository interface {
	Create(ctx Context, j AnalysisJob) error
	Get(ctx Context, id string) (AnalysisJob, error)
	// List returns jobs newest first.
	List(ctx Context, offset, limit int) ([]AnalysisJob, error)
	// ListByStatus pages jobs in a given status, oldest update first.
	ListByStatus(ctx Context, status JobStatus, offset, limit int) ([]AnalysisJob, error)
	MarkProcessing(ctx Context, id string) error
	// Complete records the fused score and level and stamps completed_at.
	Complete(ctx Context, id string, overallScore float64, level RiskLevel) error
	// Fail stamps completed_at and records the operator-facing message.
	Fail(ctx Context, id string, errMsg string) error
	// SetPhaseResult stores a phase's raw result document on the job row.
	SetPhaseResult(ctx Context, id string, phase Phase, result []byte) error
	// ReplaceRiskItems atomically swaps the job's risk items for items.
	ReplaceRiskItems(ctx Context, jobID string, items []RiskItem) error
	// ListRiskItems returns the job's risk items ordered by start second.
	ListRiskItems(ctx Context, jobID string) ([]RiskItem, error)
	// ListFinishedBefore pages terminal jobs whose completion is older than
	// cutoff, for retention cleanup.
	ListFinishedBefore(ctx Context, cutoff time.Time, limit int) ([]AnalysisJob, error)
	Delete(ctx Context, id string) error
}

type EditSessionRepository interface {
	// GetByJobID returns ErrNotFound when the job has no session yet.
	GetByJobID(ctx Context, jobID string) (EditSession, error)
	Get(ctx Context, id string) (EditSession, error)
	Create(ctx Context, s EditSession) error
	UpdateStatus(ctx Context, id string, status SessionStatus) error
	// ListActions returns the session's actions ordered by start second.
	ListActions(ctx Context, sessionID string) ([]EditAction, error)
	// ApplyActionDiff upserts and deletes actions in one transaction and
	// bumps the session's updated_at.
	ApplyActionDiff(ctx Context, sessionID string, upserts []EditAction, deleteIDs []string) error
}

type ExportRepository interface {
	Create(ctx Context, e ExportJob) error
	Get(ctx Context, id string) (ExportJob, error)
	// Latest returns the most recent export for the session, ErrNotFound
	// when none exists.
	Latest(ctx Context, sessionID string) (ExportJob, error)
	// LatestCompleted returns the most recent completed export.
	LatestCompleted(ctx Context, sessionID string) (ExportJob, error)
	MarkProcessing(ctx Context, id string) error
	Complete(ctx Context, id string, outputBlobPath string) error
	Fail(ctx Context, id string, errMsg string) error
}

// ProgressStore (port). One logical writer per key; Update must be atomic
// with respect to concurrent updates on the same key.

type ProgressStore interface {
	Init(ctx Context, jobID string) error
	Update(ctx Context, jobID string, phase Phase, status PhaseStatus, progress float64) (ProgressSnapshot, error)
	Complete(ctx Context, jobID string) error
	Fail(ctx Context, jobID string, errMsg string) error
	// Get returns nil when no snapshot is stored for the job.
	Get(ctx Context, jobID string) (*ProgressSnapshot, error)
	Delete(ctx Context, jobID string) error

	InitExport(ctx Context, exportID string) error
	UpdateExport(ctx Context, exportID string, status ExportStatus, progress float64) error
	CompleteExport(ctx Context, exportID string) error
	FailExport(ctx Context, exportID string, errMsg string) error
	GetExport(ctx Context, exportID string) (*ExportProgress, error)
	DeleteExport(ctx Context, exportID string) error
}

// Queue (port)

type Queue interface {
	EnqueueAnalysis(ctx Context, jobID string) error
	EnqueueExport(ctx Context, exportID string) error
}

// BlobStore (port)

type BlobInfo struct {
	Size        int64
	ContentType string
}

type BlobStore interface {
	Put(ctx Context, key string, r io.Reader, size int64, contentType string) error
	// Get streams the object; the caller closes the reader.
	Get(ctx Context, key string) (io.ReadCloser, BlobInfo, error)
	// Download copies the object to a local file.
	Download(ctx Context, key, localPath string) error
	Remove(ctx Context, key string) error
	// RemovePrefix deletes every object under prefix.
	RemovePrefix(ctx Context, prefix string) error
	PresignGet(ctx Context, key string, expiry time.Duration) (string, error)
	Ping(ctx Context) error
}

// Perceptual analyzers (ports). Each gets a local file path and returns its
// structured result; implementations decide what backs them.

type SpeechAnalyzer interface {
	Transcribe(ctx Context, localPath string) (*Transcript, error)
}

type OCRAnalyzer interface {
	DetectText(ctx Context, localPath string) (*OCRTextResult, error)
}

type VisionAnalyzer interface {
	Annotate(ctx Context, localPath string) (*VisionResult, error)
}

// RiskReasoner (port). Evaluate must coerce unusable model output to the
// empty assessment instead of failing; transport errors are returned.

type RiskReasoner interface {
	Evaluate(ctx Context, in EvaluationInput) (RiskAssessment, error)
}
