// Package queue moves background work (derivative generation, mockup
// compositing) off the request path through Kafka, or runs it inline when
// no broker is configured.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"artvault/internal/logger"
	"artvault/internal/metrics"
)

type Kind string

const (
	KindDerive  Kind = "derive"
	KindMockups Kind = "mockups"
)

type Job struct {
	ID        uuid.UUID `json:"id"`
	Kind      Kind      `json:"kind"`
	Slug      string    `json:"slug"`
	SKU       string    `json:"sku"`
	CreatedAt time.Time `json:"created_at"`
}

func NewJob(kind Kind, slug, sku string) Job {
	return Job{ID: uuid.New(), Kind: kind, Slug: slug, SKU: sku, CreatedAt: time.Now().UTC()}
}

// Handler executes one job.
type Handler func(ctx context.Context, job Job) error

// Dispatcher hands a job to whoever runs it.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Producer publishes jobs to a Kafka topic.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(broker, topic string) *Producer {
	return &Producer{writer: &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}}
}

func (p *Producer) Dispatch(ctx context.Context, job Job) error {
	const op = "queue.Producer.Dispatch"

	value, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	msg := kafka.Message{Key: []byte(job.SKU), Value: value}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// MessageReader is the part of *kafka.Reader the consumer loop needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func NewReader(broker, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   topic,
		GroupID: groupID,
	})
}

// Consume reads jobs until ctx is cancelled. Undecodable messages and
// failing jobs are logged and skipped; read errors are logged and retried
// after a short pause.
func Consume(ctx context.Context, reader MessageReader, handle Handler, log *logger.Logger) error {
	log = log.Component("consumer")
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			log.Error("error reading message", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		var job Job
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			log.Error("undecodable job message", "offset", msg.Offset, "error", err)
			continue
		}
		run(ctx, job, handle, log)
	}
}

func run(ctx context.Context, job Job, handle Handler, log *logger.Logger) {
	if err := handle(ctx, job); err != nil {
		metrics.RecordJob(string(job.Kind), "error")
		log.Error("job failed", "id", job.ID, "kind", job.Kind, "slug", job.Slug, "error", err)
		return
	}
	metrics.RecordJob(string(job.Kind), "done")
	log.Debug("job done", "id", job.ID, "kind", job.Kind, "slug", job.Slug)
}

// Inline runs jobs synchronously in the caller's goroutine. Job failures are
// logged, not returned, matching what the Kafka path does.
type Inline struct {
	handle Handler
	log    *logger.Logger
}

func NewInline(log *logger.Logger) *Inline {
	return &Inline{log: log.Component("inline-jobs")}
}

// SetHandler must be called before the first Dispatch.
func (i *Inline) SetHandler(h Handler) {
	i.handle = h
}

func (i *Inline) Dispatch(ctx context.Context, job Job) error {
	if i.handle == nil {
		return fmt.Errorf("queue.Inline.Dispatch: no handler for %s job", job.Kind)
	}
	run(ctx, job, i.handle, i.log)
	return nil
}
