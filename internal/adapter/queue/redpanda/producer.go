// Package redpanda carries the analysis and export task queues on
// Redpanda/Kafka with transactional, exactly-once publishing and a
// retry/dead-letter flow for exhausted tasks.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/univac-1/risk-analyzer/internal/adapter/observability"
	"github.com/univac-1/risk-analyzer/internal/domain"
)

const (
	// TopicAnalysis carries analysis task envelopes.
	TopicAnalysis = "risk.analysis.tasks"
	// TopicExport carries export task envelopes.
	TopicExport = "risk.export.tasks"
	// TopicDLQ carries exhausted tasks of both kinds.
	TopicDLQ = "risk.tasks.dlq"
)

// Producer publishes task envelopes transactionally and implements
// domain.Queue. One transaction is in flight at a time.
type Producer struct {
	client *kgo.Client
	txSlot chan struct{}
}

// NewProducer connects to brokers and ensures the task topics exist.
func NewProducer(brokers []string, transactionalID string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=queue.NewProducer: no seed brokers")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
	)
	if err != nil {
		return nil, fmt.Errorf("op=queue.NewProducer: client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, topic := range []string{TopicAnalysis, TopicExport, TopicDLQ} {
		if err := ensureTopic(ctx, client, topic, 8, 1); err != nil {
			slog.Warn("topic ensure failed, it may already exist",
				slog.String("topic", topic), slog.Any("error", err))
		}
	}

	return &Producer{client: client, txSlot: make(chan struct{}, 1)}, nil
}

// EnqueueAnalysis publishes a fresh analysis envelope for the job.
func (p *Producer) EnqueueAnalysis(ctx domain.Context, jobID string) error {
	env := domain.TaskEnvelope{
		TaskID:     ulid.Make().String(),
		Kind:       domain.TaskAnalysis,
		JobID:      jobID,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := p.Publish(ctx, TopicAnalysis, env); err != nil {
		return err
	}
	observability.EnqueueJob(string(domain.TaskAnalysis))
	return nil
}

// EnqueueExport publishes a fresh export envelope.
func (p *Producer) EnqueueExport(ctx domain.Context, exportID string) error {
	env := domain.TaskEnvelope{
		TaskID:     ulid.Make().String(),
		Kind:       domain.TaskExport,
		ExportID:   exportID,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := p.Publish(ctx, TopicExport, env); err != nil {
		return err
	}
	observability.EnqueueJob(string(domain.TaskExport))
	return nil
}

// Publish writes one envelope to topic inside a producer transaction.
func (p *Producer) Publish(ctx domain.Context, topic string, env domain.TaskEnvelope) error {
	record, err := envelopeRecord(topic, env)
	if err != nil {
		return err
	}
	return p.transact(ctx, record)
}

// PublishDeadLetter writes a dead letter to the DLQ topic.
func (p *Producer) PublishDeadLetter(ctx domain.Context, dl domain.DeadLetter) error {
	b, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("op=queue.PublishDeadLetter: marshal: %w", err)
	}
	record := &kgo.Record{
		Topic: TopicDLQ,
		Key:   []byte(dl.Envelope.SubjectID()),
		Value: b,
	}
	if err := p.transact(ctx, record); err != nil {
		return err
	}
	observability.DLQMessagesTotal.Inc()
	return nil
}

func (p *Producer) transact(ctx domain.Context, record *kgo.Record) error {
	select {
	case p.txSlot <- struct{}{}:
		defer func() { <-p.txSlot }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := p.client.BeginTransaction(); err != nil {
		return fmt.Errorf("op=queue.transact: begin: %w", err)
	}
	promise := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, promise.Promise())
	if err := promise.Err(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("transaction abort failed", slog.Any("error", abortErr))
		}
		return fmt.Errorf("op=queue.transact: produce: %w", err)
	}
	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return fmt.Errorf("op=queue.transact: commit: %w", err)
	}
	return nil
}

// Close shuts the underlying client down.
func (p *Producer) Close() {
	if p.client != nil {
		p.client.Close()
	}
}

// envelopeRecord renders env as a keyed record so every envelope of one
// subject lands on the same partition.
func envelopeRecord(topic string, env domain.TaskEnvelope) (*kgo.Record, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("op=queue.envelopeRecord: marshal: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(env.SubjectID()),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "task_id", Value: []byte(env.TaskID)},
			{Key: "kind", Value: []byte(env.Kind)},
			{Key: "attempt", Value: []byte(strconv.Itoa(env.Attempt))},
		},
	}, nil
}

// topicFor maps a task kind to its topic.
func topicFor(kind domain.TaskKind) string {
	if kind == domain.TaskExport {
		return TopicExport
	}
	return TopicAnalysis
}
