package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "certledger/pkg/platform/audit"
)

// Source is the outbox the relay drains.
type Source interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	FetchPending(ctx context.Context, limit int) ([]audit.OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []string) error
}

// Producer is the subset of *kgo.Client used by the relay.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Worker relays outbox entries to Kafka. Entries are marked published only
// after the broker acknowledges them, so delivery is at-least-once.
type Worker struct {
	source    Source
	producer  Producer
	topic     string
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
}

type Option func(*Worker)

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func NewWorker(source Source, producer Producer, topic string, opts ...Option) (*Worker, error) {
	if source == nil {
		return nil, errors.New("outbox source is required")
	}
	if producer == nil {
		return nil, errors.New("producer is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	w := &Worker{
		source:    source,
		producer:  producer,
		topic:     topic,
		batchSize: 100,
		interval:  time.Second,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run polls the outbox until ctx is cancelled. Relay failures are logged and
// retried on the next tick.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "outbox relay failed", "error", err)
			}
		}
	}
}

// RelayOnce publishes a single batch and returns how many entries were sent.
func (w *Worker) RelayOnce(ctx context.Context) (int, error) {
	var sent int
	err := w.source.RunInTx(ctx, func(ctx context.Context) error {
		entries, err := w.source.FetchPending(ctx, w.batchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		records := make([]*kgo.Record, 0, len(entries))
		ids := make([]string, 0, len(entries))
		for _, entry := range entries {
			records = append(records, &kgo.Record{
				Topic: w.topic,
				Key:   []byte(entry.AggregateID),
				Value: entry.Payload,
				Headers: []kgo.RecordHeader{
					{Key: "event_type", Value: []byte(entry.EventType)},
					{Key: "outbox_id", Value: []byte(entry.ID)},
				},
				Timestamp: entry.CreatedAt,
			})
			ids = append(ids, entry.ID)
		}

		if err := w.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
			return fmt.Errorf("produce outbox batch: %w", err)
		}
		if err := w.source.MarkPublished(ctx, ids); err != nil {
			return err
		}
		sent = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return sent, nil
}
