package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"txguard/internal/config"
)

// StartKafka consumes one batch per message. A message that fails to parse
// or evaluate is logged and skipped; it is not retried.
func StartKafka(ctx context.Context, cfg *config.Manager, eval Evaluator, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1,
		MaxBytes: int(cfg.Get().Batch.MaxBytes),
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			handleMessage(ctx, eval, m, logger)
		}
	}()
}

func handleMessage(ctx context.Context, eval Evaluator, m kafka.Message, logger *slog.Logger) {
	records, err := ParseBatch(m.Value)
	if err != nil {
		if logger != nil {
			logger.Warn("kafka batch rejected", "partition", m.Partition, "offset", m.Offset, "err", err)
		}
		return
	}
	res, err := eval.EvaluateRecords(ctx, SourceKafka, records)
	if err != nil {
		if logger != nil {
			logger.Warn("kafka batch failed", "partition", m.Partition, "offset", m.Offset, "err", err)
		}
		return
	}
	if logger != nil {
		logger.Debug("kafka batch evaluated", "partition", m.Partition, "offset", m.Offset, "batch_id", res.ID, "rows", len(res.Decisions))
	}
}
