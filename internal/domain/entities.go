// Package domain holds the core entities, enumerations and ports of the
// video risk analysis pipeline. It has no dependencies on adapters.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrInternal          = errors.New("internal error")
)

// Platform enumerates the publishing platforms a video is checked against.
type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformInstagram Platform = "instagram"
	PlatformYouTube   Platform = "youtube"
	PlatformTikTok    Platform = "tiktok"
	PlatformOther     Platform = "other"
)

// ValidPlatform reports whether p is one of the closed platform values.
func ValidPlatform(p Platform) bool {
	switch p {
	case PlatformTwitter, PlatformInstagram, PlatformYouTube, PlatformTikTok, PlatformOther:
		return true
	}
	return false
}

// Video is an ingested source clip. Immutable after creation.
type Video struct {
	ID           string
	BlobPath     string
	OriginalName string
	SizeBytes    int64
	DurationSec  *float64
	CreatedAt    time.Time
}

// VideoMetadata is the user-supplied context the reasoner evaluates against.
type VideoMetadata struct {
	Purpose        string
	Platform       Platform
	TargetAudience string
}

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether s is a terminal job status.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// AnalysisJob drives one end-to-end analysis of a video.
// Invariants: CompletedAt is non-nil iff Status is terminal; OverallScore
// and RiskLevel are set only on completion.
type AnalysisJob struct {
	ID           string
	VideoID      string
	Status       JobStatus
	Metadata     VideoMetadata
	OverallScore *float64
	RiskLevel    *RiskLevel
	AudioResult  []byte
	OCRResult    []byte
	VideoResult  []byte
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

type RiskCategory string

const (
	RiskAggressiveness RiskCategory = "aggressiveness"
	RiskDiscrimination RiskCategory = "discrimination"
	RiskMisleading     RiskCategory = "misleading"
	RiskPublicNuisance RiskCategory = "public_nuisance"
)

func ValidRiskCategory(c RiskCategory) bool {
	switch c {
	case RiskAggressiveness, RiskDiscrimination, RiskMisleading, RiskPublicNuisance:
		return true
	}
	return false
}

type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
	RiskNone   RiskLevel = "none"
)

func ValidRiskLevel(l RiskLevel) bool {
	switch l {
	case RiskHigh, RiskMedium, RiskLow, RiskNone:
		return true
	}
	return false
}

// RiskSource names which perceptual phase produced the evidence.
type RiskSource string

const (
	SourceAudio RiskSource = "audio"
	SourceOCR   RiskSource = "ocr"
	SourceVideo RiskSource = "video"
)

func ValidRiskSource(s RiskSource) bool {
	switch s {
	case SourceAudio, SourceOCR, SourceVideo:
		return true
	}
	return false
}

// RiskItem is one detected risky segment on the job's timeline.
// Invariant: 0 <= StartSec <= EndSec. Never mutated after creation.
type RiskItem struct {
	ID          string
	JobID       string
	StartSec    float64
	EndSec      float64
	Category    RiskCategory
	Subcategory string
	Score       float64
	Level       RiskLevel
	Rationale   string
	Source      RiskSource
	Evidence    string
	CreatedAt   time.Time
}

// RiskAssessment is the fused output of the risk phase.
type RiskAssessment struct {
	OverallScore float64
	RiskLevel    RiskLevel
	Risks        []RiskItem
}

// EmptyAssessment is the degraded assessment used when the reasoner
// returned unusable output. The job still completes with it.
func EmptyAssessment() RiskAssessment {
	return RiskAssessment{OverallScore: 0, RiskLevel: RiskNone}
}

// AnalysisSummary is returned by the orchestrator to the task handler.
type AnalysisSummary struct {
	OverallScore float64
	RiskLevel    RiskLevel
	RiskCount    int
}

// Context is an alias so usecases and ports share the std context without
// the domain package naming it everywhere.
type Context = context.Context
