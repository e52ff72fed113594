package domain

import (
	"math"
	"time"
)

// Phase names the four pipeline stages tracked in a progress snapshot.
type Phase string

const (
	PhaseAudio Phase = "audio"
	PhaseOCR   Phase = "ocr"
	PhaseVideo Phase = "video"
	PhaseRisk  Phase = "risk"
)

// Phases lists all phases in pipeline order.
func Phases() []Phase {
	return []Phase{PhaseAudio, PhaseOCR, PhaseVideo, PhaseRisk}
}

type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseProcessing PhaseStatus = "processing"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
)

func (s PhaseStatus) Terminal() bool {
	return s == PhaseCompleted || s == PhaseFailed
}

// PhaseProgress is one phase's slice of the snapshot.
type PhaseProgress struct {
	Status   PhaseStatus `json:"status"`
	Progress float64     `json:"progress"`
}

// ProgressSnapshot is the progress document stored per job and served to
// observers. The JSON field set is a stable contract.
type ProgressSnapshot struct {
	JobID                     string                  `json:"job_id"`
	Status                    JobStatus               `json:"status"`
	Overall                   float64                 `json:"overall"`
	Phases                    map[Phase]PhaseProgress `json:"phases"`
	EstimatedRemainingSeconds *float64                `json:"estimated_remaining_seconds"`
	Error                     string                  `json:"error,omitempty"`
}

// NewPendingSnapshot returns the all-pending snapshot observers see before
// (or in place of) a stored one.
func NewPendingSnapshot(jobID string) ProgressSnapshot {
	phases := make(map[Phase]PhaseProgress, 4)
	for _, p := range Phases() {
		phases[p] = PhaseProgress{Status: PhasePending, Progress: 0}
	}
	return ProgressSnapshot{
		JobID:   jobID,
		Status:  JobPending,
		Overall: 0,
		Phases:  phases,
	}
}

// PhaseWeights returns the weight of each phase in the overall progress.
// Weights are equal and sum to 1.
func PhaseWeights() map[Phase]float64 {
	return map[Phase]float64{
		PhaseAudio: 0.25,
		PhaseOCR:   0.25,
		PhaseVideo: 0.25,
		PhaseRisk:  0.25,
	}
}

// OverallProgress computes the weighted sum of phase progress, rounded to
// two decimals.
func OverallProgress(phases map[Phase]PhaseProgress, weights map[Phase]float64) float64 {
	var sum float64
	for p, pp := range phases {
		sum += weights[p] * pp.Progress
	}
	return Round2(sum)
}

// DeriveJobStatus applies the snapshot status rule: any failed phase fails
// the snapshot, all completed completes it, anything else is processing.
func DeriveJobStatus(phases map[Phase]PhaseProgress) JobStatus {
	completed := 0
	for _, pp := range phases {
		switch pp.Status {
		case PhaseFailed:
			return JobFailed
		case PhaseCompleted:
			completed++
		}
	}
	if completed == len(phases) && len(phases) > 0 {
		return JobCompleted
	}
	return JobProcessing
}

// EstimateRemaining extrapolates the remaining seconds from the elapsed
// wall time and the overall percentage. Nil when overall is not positive.
func EstimateRemaining(elapsed time.Duration, overall float64) *float64 {
	if overall <= 0 {
		return nil
	}
	total := elapsed.Seconds() / (overall / 100)
	rem := total - elapsed.Seconds()
	if rem < 0 {
		rem = 0
	}
	rem = Round2(rem)
	return &rem
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ExportProgress is the per-export progress document.
type ExportProgress struct {
	ExportID string       `json:"export_id"`
	Status   ExportStatus `json:"status"`
	Progress float64      `json:"progress"`
	Error    string       `json:"error,omitempty"`
}
