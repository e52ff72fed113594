package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	adapterobs "github.com/univac-1/risk-analyzer/internal/adapter/observability"
	"github.com/univac-1/risk-analyzer/internal/domain"
	"github.com/univac-1/risk-analyzer/internal/observability"
)

// AnalysisHandler runs one analysis task.
type AnalysisHandler interface {
	Analyze(ctx domain.Context, jobID string) (domain.AnalysisSummary, error)
}

// ExportHandler renders one export task.
type ExportHandler interface {
	Run(ctx domain.Context, exportID string) error
}

// Consumer fetches task envelopes from the analysis and export topics in
// a transactional consumer group and dispatches them to a bounded worker
// pool. Failed envelopes go through the retry manager.
type Consumer struct {
	session  *kgo.GroupTransactSession
	analysis AnalysisHandler
	export   ExportHandler
	retry    *RetryManager

	workers int
	poller  *adaptivePoller
	logger  *slog.Logger
}

// ConsumerOptions configures a Consumer.
type ConsumerOptions struct {
	Brokers         []string
	GroupID         string
	TransactionalID string
	Workers         int
}

// NewConsumer joins the consumer group on both task topics.
func NewConsumer(opts ConsumerOptions, analysis AnalysisHandler, export ExportHandler, retry *RetryManager, logger *slog.Logger) (*Consumer, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("op=queue.NewConsumer: no seed brokers")
	}
	if opts.GroupID == "" {
		return nil, fmt.Errorf("op=queue.NewConsumer: missing group id")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}

	kotelService := kotel.NewKotel(kotel.WithTracer(
		kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider())),
	))
	session, err := kgo.NewGroupTransactSession(
		kgo.SeedBrokers(opts.Brokers...),
		kgo.TransactionalID(opts.TransactionalID),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.ConsumerGroup(opts.GroupID),
		kgo.ConsumeTopics(TopicAnalysis, TopicExport),
		kgo.RequireStableFetchOffsets(),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.FetchMaxWait(5*time.Second),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=queue.NewConsumer: session: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		session:  session,
		analysis: analysis,
		export:   export,
		retry:    retry,
		workers:  workers,
		poller:   newAdaptivePoller(250 * time.Millisecond),
		logger:   logger,
	}, nil
}

// Run polls until the context is canceled. Records of one fetch are
// processed by at most `workers` goroutines before the next poll.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("queue consumer started", slog.Int("workers", c.workers))
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("queue consumer stopping")
			return ctx.Err()
		default:
		}

		fetches := c.session.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return fmt.Errorf("op=queue.Run: client closed")
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				if errors.Is(fe.Err, context.Canceled) {
					return ctx.Err()
				}
				c.logger.Error("fetch error",
					slog.String("topic", fe.Topic),
					slog.Int("partition", int(fe.Partition)),
					slog.Any("error", fe.Err))
			}
			c.poller.observe(true, 0)
			sleepCtx(ctx, c.poller.next())
			continue
		}

		n := fetches.NumRecords()
		c.poller.observe(false, n)
		if n == 0 {
			sleepCtx(ctx, c.poller.next())
			continue
		}

		sem := make(chan struct{}, c.workers)
		var wg sync.WaitGroup
		fetches.EachRecord(func(record *kgo.Record) {
			wg.Add(1)
			sem <- struct{}{}
			go func(rec *kgo.Record) {
				defer wg.Done()
				defer func() { <-sem }()
				c.processRecord(ctx, rec)
			}(record)
		})
		wg.Wait()
	}
}

// processRecord unmarshals and dispatches one envelope. Handler errors
// are routed to the retry manager; the record offset is marked either way
// so redelivery happens through re-published envelopes, not offsets.
func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) {
	defer c.session.Client().MarkCommitRecords(record)

	var env domain.TaskEnvelope
	if err := json.Unmarshal(record.Value, &env); err != nil {
		c.logger.Error("malformed task envelope dropped",
			slog.String("topic", record.Topic),
			slog.Int64("offset", record.Offset),
			slog.Any("error", err))
		adapterobs.QueueRecordsTotal.WithLabelValues("unknown", "malformed").Inc()
		return
	}

	lg := c.logger.With(
		slog.String("task_id", env.TaskID),
		slog.String("kind", string(env.Kind)),
		slog.String("subject_id", env.SubjectID()),
		slog.Int("attempt", env.Attempt))
	hctx := observability.ContextWithLogger(ctx, lg)

	err := c.dispatch(hctx, env)
	adapterobs.QueueRecordsTotal.WithLabelValues(string(env.Kind), classifyFailure(err)).Inc()
	if err != nil {
		lg.Error("task failed", slog.Any("error", err))
		c.retry.HandleFailure(hctx, env, err)
		return
	}
	lg.Info("task completed")
}

func (c *Consumer) dispatch(ctx domain.Context, env domain.TaskEnvelope) error {
	tracer := otel.Tracer("queue.consumer")
	ctx, span := tracer.Start(ctx, "consumer.dispatch")
	defer span.End()

	switch env.Kind {
	case domain.TaskAnalysis:
		adapterobs.StartProcessingJob(string(domain.TaskAnalysis))
		_, err := c.analysis.Analyze(ctx, env.JobID)
		if err != nil {
			adapterobs.FailJob(string(domain.TaskAnalysis))
			return err
		}
		adapterobs.CompleteJob(string(domain.TaskAnalysis))
		return nil
	case domain.TaskExport:
		adapterobs.StartProcessingJob(string(domain.TaskExport))
		start := time.Now()
		if err := c.export.Run(ctx, env.ExportID); err != nil {
			adapterobs.FailJob(string(domain.TaskExport))
			return err
		}
		adapterobs.ExportDuration.Observe(time.Since(start).Seconds())
		adapterobs.CompleteJob(string(domain.TaskExport))
		return nil
	default:
		return fmt.Errorf("op=queue.dispatch: unknown task kind %q: %w", env.Kind, domain.ErrInvalidArgument)
	}
}

// Close leaves the consumer group.
func (c *Consumer) Close() {
	if c.session != nil {
		c.session.Close()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
