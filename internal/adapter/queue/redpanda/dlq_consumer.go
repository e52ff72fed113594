package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/univac-1/risk-analyzer/internal/domain"
)

// dlqCooldown is how long a requeueable dead letter rests before it is
// re-published to its task topic.
const dlqCooldown = 30 * time.Second

// DLQConsumer redrives requeueable dead letters after a cooldown. Letters
// marked non-requeueable stay on the topic for operators.
type DLQConsumer struct {
	client    *kgo.Client
	publisher EnvelopePublisher
	logger    *slog.Logger

	cooldown time.Duration
	sleep    func(context.Context, time.Duration)
}

// NewDLQConsumer joins a separate consumer group on the DLQ topic.
func NewDLQConsumer(brokers []string, groupID string, publisher EnvelopePublisher, logger *slog.Logger) (*DLQConsumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=queue.NewDLQConsumer: no seed brokers")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(TopicDLQ),
		kgo.FetchMaxWait(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=queue.NewDLQConsumer: client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DLQConsumer{
		client:    client,
		publisher: publisher,
		logger:    logger,
		cooldown:  dlqCooldown,
		sleep:     sleepCtx,
	}, nil
}

// Run polls the DLQ until the context is canceled.
func (d *DLQConsumer) Run(ctx context.Context) error {
	d.logger.Info("dlq consumer started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fetches := d.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return fmt.Errorf("op=queue.dlq.Run: client closed")
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				d.logger.Error("dlq fetch error", slog.Any("error", fe.Err))
			}
			d.sleep(ctx, 2*time.Second)
			continue
		}
		fetches.EachRecord(func(record *kgo.Record) {
			d.handleRecord(ctx, record)
		})
	}
}

// handleRecord redrives one dead letter. The cooldown counts from the
// moment the letter was written.
func (d *DLQConsumer) handleRecord(ctx context.Context, record *kgo.Record) {
	var dl domain.DeadLetter
	if err := json.Unmarshal(record.Value, &dl); err != nil {
		d.logger.Error("malformed dead letter dropped",
			slog.Int64("offset", record.Offset), slog.Any("error", err))
		return
	}
	lg := d.logger.With(
		slog.String("task_id", dl.Envelope.TaskID),
		slog.String("kind", string(dl.Envelope.Kind)),
		slog.String("subject_id", dl.Envelope.SubjectID()))

	if !dl.CanRequeue {
		lg.Info("dead letter is not requeueable, leaving for operators",
			slog.String("failure_reason", dl.FailureReason))
		return
	}

	if rest := time.Until(dl.FailedAt.Add(d.cooldown)); rest > 0 {
		lg.Info("dead letter cooling down", slog.Duration("remaining", rest))
		d.sleep(ctx, rest)
		if ctx.Err() != nil {
			return
		}
	}

	env := dl.Envelope
	env.Attempt = 0
	env.EnqueuedAt = time.Now().UTC()
	if err := d.publisher.Publish(ctx, topicFor(env.Kind), env); err != nil {
		lg.Error("dead letter redrive failed", slog.Any("error", err))
		return
	}
	lg.Info("dead letter redriven")
}

// Close leaves the DLQ consumer group.
func (d *DLQConsumer) Close() {
	if d.client != nil {
		d.client.Close()
	}
}
