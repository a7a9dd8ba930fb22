// Package collector ships search events to Kafka in batches, off the
// request path.
package collector

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/OnlineMo/DeepResearch-Web/internal/analytics"
	"github.com/OnlineMo/DeepResearch-Web/pkg/kafka"
)

const (
	// queueBatches is the size of the intake queue in batches. Track drops
	// events once it is full.
	queueBatches = 4
	// retainBatches caps how much unpublished data is held across failed
	// flushes; the oldest events go first.
	retainBatches = 3

	finalFlushTimeout = 5 * time.Second
)

// Publisher writes a batch of events. *kafka.Producer satisfies it.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// BatchCollector queues events from request goroutines and publishes them
// from a single loop, when a batch fills or the flush interval passes.
type BatchCollector struct {
	publisher     Publisher
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger

	queue   chan kafka.Event
	dropped atomic.Int64
	done    chan struct{}

	// pending is owned by the loop goroutine.
	pending []kafka.Event
}

// NewBatchCollector returns a collector publishing batches of up to
// batchSize events at least every flushInterval. Start runs it.
func NewBatchCollector(publisher Publisher, batchSize int, flushInterval time.Duration) *BatchCollector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchCollector{
		publisher:     publisher,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "search-event-collector"),
		queue:         make(chan kafka.Event, batchSize*queueBatches),
		done:          make(chan struct{}),
		pending:       make([]kafka.Event, 0, batchSize),
	}
}

// RecordSearch queues a search event keyed by its query, so every event for
// one query lands on the same partition.
func (bc *BatchCollector) RecordSearch(event analytics.SearchEvent) {
	bc.Track(event.Query, event)
}

// Track queues an event without blocking. A full queue drops it.
func (bc *BatchCollector) Track(key string, value any) {
	select {
	case bc.queue <- kafka.Event{Key: key, Value: value}:
	default:
		if n := bc.dropped.Add(1); n == 1 || n%1000 == 0 {
			bc.logger.Warn("event queue full, dropping search events", "dropped_total", n)
		}
	}
}

// Dropped is the number of events Track has discarded.
func (bc *BatchCollector) Dropped() int64 {
	return bc.dropped.Load()
}

// Start runs the publish loop until ctx ends. Whatever is queued at that
// point gets one last flush.
func (bc *BatchCollector) Start(ctx context.Context) {
	bc.logger.Info("collector started", "batch_size", bc.batchSize, "flush_interval", bc.flushInterval)
	go bc.run(ctx)
}

// Close blocks until the loop started by Start has made its final flush.
func (bc *BatchCollector) Close() {
	<-bc.done
}

func (bc *BatchCollector) run(ctx context.Context) {
	defer close(bc.done)
	ticker := time.NewTicker(bc.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-bc.queue:
			bc.pending = append(bc.pending, ev)
			if len(bc.pending) >= bc.batchSize {
				bc.flush(ctx)
			}
		case <-ticker.C:
			bc.flush(ctx)
		case <-ctx.Done():
			bc.drain()
			flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			bc.flush(flushCtx)
			cancel()
			if n := len(bc.pending); n > 0 {
				bc.logger.Warn("unpublished search events discarded at shutdown", "events", n)
			}
			return
		}
	}
}

func (bc *BatchCollector) drain() {
	for {
		select {
		case ev := <-bc.queue:
			bc.pending = append(bc.pending, ev)
		default:
			return
		}
	}
}

// flush publishes pending. On failure the events stay for the next flush,
// trimmed from the front to retainBatches batches.
func (bc *BatchCollector) flush(ctx context.Context) {
	if len(bc.pending) == 0 {
		return
	}
	if err := bc.publisher.PublishBatch(ctx, bc.pending); err != nil {
		limit := bc.batchSize * retainBatches
		if over := len(bc.pending) - limit; over > 0 {
			bc.pending = append(bc.pending[:0:0], bc.pending[over:]...)
			bc.logger.Warn("publish backlog over limit, oldest events dropped", "dropped", over)
		}
		bc.logger.Error("publishing search events failed", "events", len(bc.pending), "error", err)
		return
	}
	bc.logger.Debug("search events published", "events", len(bc.pending))
	// The publisher may keep the slice it was given.
	bc.pending = make([]kafka.Event, 0, bc.batchSize)
}
