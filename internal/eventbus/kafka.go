package eventbus

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const maxAttempts = 3

// kafkaBus is a Kafka-backed Bus. Run drives a worker pool that consumes
// events, retries failed handlers with exponential backoff, and publishes
// exhausted events to a dead-letter topic, mirroring the reference
// orchestrator's command-consumer shape.
type kafkaBus struct {
	writer  *kafka.Writer
	reader  *kafka.Reader
	dlq     *kafka.Writer
	workers int
}

// NewKafka builds a Bus bound to topic on the given brokers, consuming as
// groupID. workers bounds the concurrent handler goroutines in Run.
func NewKafka(brokers []string, topic, groupID string, workers int) Bus {
	if workers <= 0 {
		workers = 4
	}
	return &kafkaBus{
		writer: &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: topic, Balancer: &kafka.LeastBytes{}},
		reader: kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: groupID}),
		dlq:    &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: topic + ".dlq", Balancer: &kafka.LeastBytes{}},
		workers: workers,
	}
}

func (b *kafkaBus) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.writer.WriteMessages(ctx, kafka.Message{Value: payload})
}

func (b *kafkaBus) Close() error {
	_ = b.writer.Close()
	_ = b.dlq.Close()
	return b.reader.Close()
}

// Run starts a worker pool that reads from the topic, dispatches to handler
// with retry-with-backoff on failure, and commits offsets after each message
// is handled (successfully or via the DLQ).
func (b *kafkaBus) Run(ctx context.Context, handler Handler) error {
	jobs := make(chan kafka.Message, b.workers)
	done := make(chan struct{})

	for i := 0; i < b.workers; i++ {
		go b.worker(ctx, jobs, handler)
	}
	go func() { <-ctx.Done(); close(done) }()

	defer close(jobs)
	for {
		select {
		case <-done:
			return ctx.Err()
		default:
		}
		msg, err := b.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}
		select {
		case jobs <- msg:
		case <-done:
			return ctx.Err()
		}
	}
}

func (b *kafkaBus) worker(ctx context.Context, jobs <-chan kafka.Message, handler Handler) {
	for msg := range jobs {
		var e Event
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			log.Warn().Err(err).Msg("eventbus: dropping malformed message")
			_ = b.reader.CommitMessages(ctx, msg)
			continue
		}
		b.handleWithRetry(ctx, msg, e, handler)
	}
}

func (b *kafkaBus) handleWithRetry(ctx context.Context, msg kafka.Message, e Event, handler Handler) {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = handler(ctx, e); err == nil {
			break
		}
		backoff := time.Duration(200*math.Pow(2, float64(attempt-1))) * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
	if err != nil {
		log.Error().Err(err).Int64("memory_id", e.MemoryID).Msg("eventbus: handler exhausted retries, publishing to dlq")
		_ = b.dlq.WriteMessages(ctx, msg)
	}
	_ = b.reader.CommitMessages(ctx, msg)
}
