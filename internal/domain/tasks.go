// Task envelopes and retry policy for queue-dispatched work.
package domain

import "time"

type TaskKind string

const (
	TaskAnalysis TaskKind = "analysis"
	TaskExport   TaskKind = "export"
)

// TaskEnvelope is the message published for one unit of queue work.
// Attempt starts at 0 and is incremented on every retry publish.
type TaskEnvelope struct {
	TaskID     string    `json:"task_id"`
	Kind       TaskKind  `json:"kind"`
	JobID      string    `json:"job_id,omitempty"`
	ExportID   string    `json:"export_id,omitempty"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// SubjectID returns the id the envelope is keyed and partitioned by.
func (t TaskEnvelope) SubjectID() string {
	if t.Kind == TaskExport {
		return t.ExportID
	}
	return t.JobID
}

// RetryPolicy bounds how often a failed task is re-published before it is
// dead-lettered.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Exhausted reports whether attempt (0-based) has used up the policy.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

// AnalysisRetryPolicy is the bound for analysis tasks.
func AnalysisRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 60 * time.Second}
}

// ExportRetryPolicy is the bound for export tasks.
func ExportRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, Delay: 60 * time.Second}
}

// DeadLetter wraps an exhausted task with its failure metadata.
type DeadLetter struct {
	Envelope      TaskEnvelope `json:"envelope"`
	FailureReason string       `json:"failure_reason"`
	FailedAt      time.Time    `json:"failed_at"`
	CanRequeue    bool         `json:"can_requeue"`
}
