// Package consumer reads corpus reload events from Kafka and rebuilds the
// search snapshot when one arrives.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/kafka"
)

// ReloadEvent asks every searcher replica to rebuild from its corpus source.
type ReloadEvent struct {
	Reason      string    `json:"reason"`
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// Reloader is the part of the indexer engine the consumer drives.
type Reloader interface {
	Reload(ctx context.Context) (*indexer.Snapshot, error)
}

// ReloadConsumer wraps a Kafka consumer to drive snapshot reloads.
type ReloadConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates a ReloadConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *ReloadConsumer {
	return &ReloadConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "reload-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (rc *ReloadConsumer) Start(ctx context.Context) error {
	rc.logger.Info("reload consumer starting")
	return rc.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that reloads the engine for
// every well-formed reload event. Undecodable messages come back as
// permanent errors, which the consumer skips without retrying.
func HandleMessage(engine Reloader) kafka.MessageHandler {
	logger := slog.Default().With("component", "reload-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ReloadEvent](value)
		if err != nil {
			return err
		}
		logger.Info("reload requested",
			"reason", event.Reason,
			"requested_by", event.RequestedBy,
			"requested_at", event.RequestedAt,
		)
		snap, err := engine.Reload(ctx)
		if err != nil {
			return fmt.Errorf("reloading snapshot: %w", err)
		}
		logger.Info("reload applied", "version", snap.Version, "records", snap.Stats.Records)
		return nil
	}
}
