// Package ingest receives transaction batches and hands each one to the engine.
package ingest

import (
	"context"
	"errors"
	"time"

	"txguard/internal/engine"
	"txguard/internal/normalize"
)

const (
	SourceREST  = "rest"
	SourceKafka = "kafka"
	SourceInbox = "inbox"
	SourceTCP   = "tcp"
)

// ErrPayloadTooLarge is returned when a TCP or inbox payload exceeds batch.max_bytes.
var ErrPayloadTooLarge = errors.New("batch exceeds batch.max_bytes")

// Evaluator is the slice of the engine every ingest surface drives.
type Evaluator interface {
	EvaluateRecords(ctx context.Context, source string, records []normalize.Record) (*engine.BatchResult, error)
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
