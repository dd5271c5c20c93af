package writer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// batchSender is the slice of pgxpool.Pool the writers need.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// WriterConfig holds configuration shared by the journal writers.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
	}
}

// signalRow is a row for the signal_events table: one row per observed
// signal transition.
type signalRow struct {
	SignalID   string
	BotID      string
	Symbol     string
	Decision   string
	Price      float64
	Confidence float64
	Status     string
	CreatedTS  int64 // Epoch milliseconds
	ObservedAt int64 // Epoch milliseconds
}

// candleRow is a row for the candles table, upserted on (symbol,
// timeframe, ts) so repeated in-progress ticks settle on the final values.
type candleRow struct {
	Symbol     string
	Timeframe  string
	Ts         int64 // Epoch seconds, timeframe-aligned
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	ObservedAt int64 // Epoch milliseconds
}

// WriterMetrics holds counters common to the journal writers.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}
