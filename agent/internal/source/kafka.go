package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cyberpulse/cyberpulse/agent/internal/config"
	"github.com/cyberpulse/cyberpulse/pkg/ingest"
	"github.com/cyberpulse/cyberpulse/pkg/types"
)

// DefaultKafkaWait bounds how long one collection waits for messages.
const DefaultKafkaWait = 2 * time.Second

// messageReader is the subset of *kafka.Reader used by Kafka.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka consumes JSON-encoded events from a topic.
type Kafka struct {
	id       string
	reader   messageReader
	maxBatch int
	wait     time.Duration
}

// NewKafka returns a Kafka source joined to cfg.GroupID. Offsets are
// committed after each collection.
func NewKafka(id string, cfg config.KafkaConfig) *Kafka {
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "cyberpulse-agent"
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return newKafka(id, r, cfg.MaxBatch)
}

func newKafka(id string, r messageReader, maxBatch int) *Kafka {
	if maxBatch <= 0 {
		maxBatch = config.DefaultBatchSize
	}
	return &Kafka{id: id, reader: r, maxBatch: maxBatch, wait: DefaultKafkaWait}
}

// ID implements Source.
func (k *Kafka) ID() string { return k.id }

// Collect reads up to maxBatch messages, waiting at most k.wait for them.
// Messages that are not valid JSON events are skipped but still committed.
func (k *Kafka) Collect(ctx context.Context) ([]types.Event, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, k.wait)
	defer cancel()

	var (
		events   []types.Event
		msgs     []kafka.Message
		fetchErr error
	)
	for len(msgs) < k.maxBatch {
		m, err := k.reader.FetchMessage(fetchCtx)
		if err != nil {
			if fetchCtx.Err() == nil || ctx.Err() != nil {
				fetchErr = err
			}
			break
		}
		msgs = append(msgs, m)

		ev, err := ingest.DecodeJSON(m.Value)
		if err != nil {
			slog.Warn("source: skipping undecodable kafka message",
				"source", k.id, "partition", m.Partition, "offset", m.Offset, "err", err)
			continue
		}
		events = append(events, ev)
	}

	if len(msgs) > 0 {
		if err := k.reader.CommitMessages(ctx, msgs...); err != nil {
			return events, fmt.Errorf("source %q: commit offsets: %w", k.id, err)
		}
	}
	if fetchErr != nil && len(msgs) == 0 {
		return nil, fmt.Errorf("source %q: fetch: %w", k.id, fetchErr)
	}
	return events, nil
}

// Close implements Source.
func (k *Kafka) Close() error { return k.reader.Close() }
