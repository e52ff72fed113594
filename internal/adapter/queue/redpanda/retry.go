package redpanda

import (
	"context"
	"log/slog"
	"time"

	"github.com/univac-1/risk-analyzer/internal/domain"
	"github.com/univac-1/risk-analyzer/internal/observability"
)

// EnvelopePublisher re-publishes envelopes and dead letters. *Producer
// satisfies it; tests swap in a fake.
type EnvelopePublisher interface {
	Publish(ctx domain.Context, topic string, env domain.TaskEnvelope) error
	PublishDeadLetter(ctx domain.Context, dl domain.DeadLetter) error
}

// AnalysisFinalizer records an analysis job's terminal failure once its
// retries are spent.
type AnalysisFinalizer interface {
	MarkFailed(ctx domain.Context, jobID, msg string) error
}

// ExportFinalizer records an export's terminal failure.
type ExportFinalizer interface {
	MarkFailed(ctx domain.Context, exportID, msg string)
}

// RetryManager decides what happens to a failed task: re-publish with an
// incremented attempt, or finalize and dead-letter it.
type RetryManager struct {
	Publisher EnvelopePublisher
	Analysis  AnalysisFinalizer
	Export    ExportFinalizer

	AnalysisPolicy domain.RetryPolicy
	ExportPolicy   domain.RetryPolicy

	// sleep is swapped in tests.
	sleep func(time.Duration)
}

// NewRetryManager constructs a RetryManager with the default policies.
func NewRetryManager(pub EnvelopePublisher, analysis AnalysisFinalizer, export ExportFinalizer) *RetryManager {
	return &RetryManager{
		Publisher:      pub,
		Analysis:       analysis,
		Export:         export,
		AnalysisPolicy: domain.AnalysisRetryPolicy(),
		ExportPolicy:   domain.ExportRetryPolicy(),
		sleep:          time.Sleep,
	}
}

// HandleFailure routes one failed envelope. The next attempt is published
// after the policy delay from a detached goroutine so the consumer can
// commit the current offset.
func (rm *RetryManager) HandleFailure(ctx domain.Context, env domain.TaskEnvelope, cause error) {
	code := classifyFailure(cause)
	policy := rm.policyFor(env.Kind)
	lg := observability.LoggerFromContext(ctx).With(
		slog.String("task_id", env.TaskID),
		slog.String("kind", string(env.Kind)),
		slog.String("subject_id", env.SubjectID()),
		slog.String("failure_code", code),
		slog.Int("attempt", env.Attempt))

	nextAttempt := env.Attempt + 1
	if policy.Exhausted(nextAttempt) {
		lg.Warn("task retries exhausted, dead-lettering", slog.Any("error", cause))
		rm.finalize(ctx, env, cause, code)
		return
	}

	retry := env
	retry.Attempt = nextAttempt
	lg.Info("task scheduled for retry", slog.Duration("delay", policy.Delay))
	go func() {
		rm.sleep(policy.Delay)
		pctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := rm.Publisher.Publish(pctx, topicFor(retry.Kind), retry); err != nil {
			lg.Error("retry publish failed, dead-lettering", slog.Any("error", err))
			rm.finalize(pctx, env, cause, code)
		}
	}()
}

func (rm *RetryManager) finalize(ctx domain.Context, env domain.TaskEnvelope, cause error, code string) {
	lg := observability.LoggerFromContext(ctx)
	msg := "task failed"
	if cause != nil {
		msg = cause.Error()
	}

	switch env.Kind {
	case domain.TaskExport:
		rm.Export.MarkFailed(ctx, env.ExportID, msg)
	default:
		if err := rm.Analysis.MarkFailed(ctx, env.JobID, msg); err != nil {
			lg.Error("analysis finalize failed", slog.String("job_id", env.JobID), slog.Any("error", err))
		}
	}

	dl := domain.DeadLetter{
		Envelope:      env,
		FailureReason: msg,
		FailedAt:      time.Now().UTC(),
		CanRequeue:    transientFailure(code),
	}
	if err := rm.Publisher.PublishDeadLetter(ctx, dl); err != nil {
		lg.Error("dead-letter publish failed",
			slog.String("task_id", env.TaskID), slog.Any("error", err))
	}
}

func (rm *RetryManager) policyFor(kind domain.TaskKind) domain.RetryPolicy {
	if kind == domain.TaskExport {
		return rm.ExportPolicy
	}
	return rm.AnalysisPolicy
}
