// Package observability carries request-scoped logging helpers and
// instrumentation decorators shared by the server and worker processes.
package observability

import (
	"log/slog"
	"time"

	adapterobs "github.com/univac-1/risk-analyzer/internal/adapter/observability"
	"github.com/univac-1/risk-analyzer/internal/domain"
)

// ObservableReasoner wraps a RiskReasoner with latency metrics and logging.
type ObservableReasoner struct {
	inner domain.RiskReasoner
}

// NewObservableReasoner decorates r. A nil r yields a nil decorator, which
// callers must not use.
func NewObservableReasoner(r domain.RiskReasoner) *ObservableReasoner {
	if r == nil {
		return nil
	}
	return &ObservableReasoner{inner: r}
}

// Evaluate delegates to the wrapped reasoner, recording call duration and
// outcome around it.
func (o *ObservableReasoner) Evaluate(ctx domain.Context, in domain.EvaluationInput) (domain.RiskAssessment, error) {
	lg := LoggerFromContext(ctx)
	start := time.Now()
	out, err := o.inner.Evaluate(ctx, in)
	dur := time.Since(start)

	adapterobs.ReasonerRequestDuration.Observe(dur.Seconds())
	if err != nil {
		adapterobs.ReasonerRequestsTotal.WithLabelValues("error").Inc()
		lg.Error("reasoner call failed",
			slog.Duration("duration", dur),
			slog.Any("error", err))
		return out, err
	}
	adapterobs.ReasonerRequestsTotal.WithLabelValues("ok").Inc()
	lg.Info("reasoner call completed",
		slog.Duration("duration", dur),
		slog.Float64("overall_score", out.OverallScore),
		slog.String("risk_level", string(out.RiskLevel)),
		slog.Int("risk_count", len(out.Risks)))
	return out, nil
}
