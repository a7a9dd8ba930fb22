// Package consumer keeps a searcher's index in step with the indexer
// service. It reads IndexEvents from Kafka and pulls the named reports from
// the shared report store.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/OnlineMo/DeepResearch-Web/internal/analytics"
	"github.com/OnlineMo/DeepResearch-Web/internal/indexer"
	"github.com/OnlineMo/DeepResearch-Web/internal/report"
	"github.com/OnlineMo/DeepResearch-Web/pkg/kafka"
)

// ReportLoader reads reports from the snapshot store. store.Store satisfies
// it.
type ReportLoader interface {
	Load(ctx context.Context, paths ...string) ([]report.Report, error)
	All(ctx context.Context) ([]report.Report, error)
}

// IndexConsumer wraps a Kafka consumer to drive index updates.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a MessageHandler for IndexEvents. An event listing
// paths updates those reports in place; an event without paths rebuilds the
// index from the whole store. Undecodable messages are logged and dropped.
func HandleMessage(engine *indexer.Engine, loader ReportLoader) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[analytics.IndexEvent](value)
		if err != nil {
			logger.Error("failed to decode index event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		if event.Type != analytics.EventReportsIndexed {
			logger.Debug("ignoring event", "type", event.Type)
			return nil
		}

		logger.Debug("processing index event",
			"revision", event.Revision,
			"paths", len(event.Paths),
		)

		if len(event.Paths) == 0 {
			reports, err := loader.All(ctx)
			if err != nil {
				return fmt.Errorf("loading snapshot for revision %s: %w", event.Revision, err)
			}
			engine.Build(reports)
			logger.Info("index rebuilt from store", "revision", event.Revision, "reports", len(reports))
			return nil
		}

		reports, err := loader.Load(ctx, event.Paths...)
		if err != nil {
			return fmt.Errorf("loading %d reports for revision %s: %w", len(event.Paths), event.Revision, err)
		}
		if missing := len(event.Paths) - len(reports); missing > 0 {
			logger.Warn("reports named by index event are not in the store",
				"revision", event.Revision,
				"missing", missing,
			)
		}
		engine.Update(reports)
		logger.Info("reports indexed",
			"revision", event.Revision,
			"reports", len(reports),
		)
		return nil
	}
}
