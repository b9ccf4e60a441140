package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/kafka"
)

const (
	defaultBufferSize    = 10000
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
	eventKey             = "analytics"
)

// Publisher is the subset of *kafka.Producer the collector needs.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Recorder receives every tracked event in process. *Aggregator implements it.
type Recorder interface {
	Record(event any)
}

// Collector buffers events without blocking the caller and ships them in
// batches, flushing when a batch fills or the interval elapses. Either the
// publisher or the recorder may be nil.
type Collector struct {
	publisher     Publisher
	recorder      Recorder
	eventCh       chan any
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}

	closeMu sync.RWMutex
	closed  bool
}

func NewCollector(publisher Publisher, recorder Recorder, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Collector{
		publisher:     publisher,
		recorder:      recorder,
		eventCh:       make(chan any, bufferSize),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		logger:        slog.Default().With("component", "analytics-collector"),
		done:          make(chan struct{}),
	}
}

// Start runs the flush loop in the background until ctx is cancelled or
// Close is called. Buffered events are flushed before it exits.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()

		batch := make([]kafka.Event, 0, c.batchSize)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					c.flush(context.Background(), batch)
					return
				}
				batch = c.add(ctx, batch, event)
			case <-ticker.C:
				batch = c.flush(ctx, batch)
			case <-ctx.Done():
				batch = c.drain(batch)
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.flush(flushCtx, batch)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"buffer_size", cap(c.eventCh),
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// Track enqueues event, dropping it when the buffer is full or the
// collector is closed.
func (c *Collector) Track(event any) {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("analytics event dropped (buffer full)")
	}
}

// Close stops accepting events and waits for the final flush.
func (c *Collector) Close() {
	c.closeMu.Lock()
	if !c.closed {
		c.closed = true
		close(c.eventCh)
	}
	c.closeMu.Unlock()
	<-c.done
}

func (c *Collector) add(ctx context.Context, batch []kafka.Event, event any) []kafka.Event {
	if c.recorder != nil {
		c.recorder.Record(event)
	}
	if c.publisher == nil {
		return batch
	}
	batch = append(batch, toKafka(event))
	if len(batch) >= c.batchSize {
		return c.flush(ctx, batch)
	}
	return batch
}

func (c *Collector) drain(batch []kafka.Event) []kafka.Event {
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return batch
			}
			if c.recorder != nil {
				c.recorder.Record(event)
			}
			if c.publisher != nil {
				batch = append(batch, toKafka(event))
			}
		default:
			return batch
		}
	}
}

// flush publishes batch and returns an empty batch to reuse. Failed
// batches are dropped; analytics never blocks queries.
func (c *Collector) flush(ctx context.Context, batch []kafka.Event) []kafka.Event {
	if len(batch) == 0 || c.publisher == nil {
		return batch[:0]
	}
	if err := c.publisher.PublishBatch(ctx, batch); err != nil {
		c.logger.Error("failed to publish analytics batch", "events", len(batch), "error", err)
	} else {
		c.logger.Debug("analytics batch flushed", "events", len(batch))
	}
	return make([]kafka.Event, 0, c.batchSize)
}

func toKafka(event any) kafka.Event {
	out := kafka.Event{Key: eventKey, Value: event}
	switch e := event.(type) {
	case SearchEvent:
		out.Type = string(e.Type)
	case *SearchEvent:
		out.Type = string(e.Type)
	case SnapshotEvent:
		out.Type = string(e.Type)
	}
	return out
}
