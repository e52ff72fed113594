package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/univac-1/risk-analyzer/internal/domain"
)

// StuckJobSweeper fails analysis jobs that sat in processing past a
// maximum age. Those are jobs whose worker died between marking the row
// and writing a terminal state.
type StuckJobSweeper struct {
	jobs             domain.JobRepository
	maxProcessingAge time.Duration
	interval         time.Duration
}

func NewStuckJobSweeper(jobs domain.JobRepository, maxProcessingAge, interval time.Duration) *StuckJobSweeper {
	if jobs == nil {
		return nil
	}
	if maxProcessingAge <= 0 {
		maxProcessingAge = 30 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &StuckJobSweeper{
		jobs:             jobs,
		maxProcessingAge: maxProcessingAge,
		interval:         interval,
	}
}

// Run sweeps until the context is canceled.
func (s *StuckJobSweeper) Run(ctx context.Context) {
	if s == nil || s.jobs == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck job sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StuckJobSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("jobs.sweeper")
	ctx, span := tracer.Start(ctx, "StuckJobSweeper.sweepOnce")
	defer span.End()

	cutoff := time.Now().Add(-s.maxProcessingAge)
	const pageSize = 100

	checked := 0
	failed := 0
	for offset := 0; ; offset += pageSize {
		jobs, err := s.jobs.ListByStatus(ctx, domain.JobProcessing, offset, pageSize)
		if err != nil {
			span.RecordError(err)
			slog.Error("stuck job sweep: list failed", slog.Any("error", err))
			return
		}
		checked += len(jobs)
		if len(jobs) == 0 {
			break
		}

		for _, j := range jobs {
			if !j.UpdatedAt.Before(cutoff) {
				continue
			}
			msg := fmt.Sprintf("processing exceeded maximum age %v", s.maxProcessingAge)
			if err := s.jobs.Fail(ctx, j.ID, msg); err != nil {
				slog.Error("stuck job sweep: fail write failed",
					slog.String("job_id", j.ID), slog.Any("error", err))
				continue
			}
			failed++
			slog.Warn("stuck job failed by sweeper",
				slog.String("job_id", j.ID),
				slog.Time("updated_at", j.UpdatedAt))
		}

		if len(jobs) < pageSize {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("jobs.checked", checked),
		attribute.Int("jobs.failed", failed),
	)
}
