package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"botsync/internal/router"
)

// CandleWriter consumes CandleEntry from the router journal and upserts into
// the candles table. In-progress candles tick repeatedly at the same
// timestamp; the upsert leaves the final closed values in place.
type CandleWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from Message Router
	input *router.Buffer[router.CandleEntry]

	// Database
	db batchSender

	// Batching
	batch       []candleRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewCandleWriter creates a new CandleWriter.
func NewCandleWriter(
	cfg WriterConfig,
	input *router.Buffer[router.CandleEntry],
	db batchSender,
	logger *slog.Logger,
) *CandleWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CandleWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]candleRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming entries and writing to the database.
func (w *CandleWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("candle writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer.
func (w *CandleWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping candle writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("candle writer stopped")
	case <-ctx.Done():
		w.logger.Warn("candle writer stop timed out")
	}

	// Final flush on a fresh context: w.ctx is already cancelled here and
	// would fail the last batch.
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flush(flushCtx)

	return nil
}

// Stats returns current metrics.
func (w *CandleWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the journal and accumulates batches.
func (w *CandleWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			entry, ok := w.input.TryReceive()
			if !ok {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			w.handleEntry(entry)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *CandleWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleEntry transforms and adds an entry to the batch. Ticks for the same
// candle already waiting in the batch are collapsed to the newest one.
func (w *CandleWriter) handleEntry(entry router.CandleEntry) {
	row := w.transform(entry)

	w.batchMu.Lock()
	replaced := false
	for i := len(w.batch) - 1; i >= 0; i-- {
		b := w.batch[i]
		if b.Symbol == row.Symbol && b.Timeframe == row.Timeframe && b.Ts == row.Ts {
			w.batch[i] = row
			replaced = true
			break
		}
	}
	if !replaced {
		w.batch = append(w.batch, row)
	}
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// transform converts a CandleEntry to a candleRow.
func (w *CandleWriter) transform(entry router.CandleEntry) candleRow {
	return candleRow{
		Symbol:     entry.Symbol,
		Timeframe:  entry.Timeframe,
		Ts:         entry.Candle.Time,
		Open:       entry.Candle.Open,
		High:       entry.Candle.High,
		Low:        entry.Candle.Low,
		Close:      entry.Candle.Close,
		Volume:     entry.Candle.Volume,
		ObservedAt: entry.ObservedAt.UnixMilli(),
	}
}

// flush writes the current batch to the database.
func (w *CandleWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	batch := w.batch
	w.batch = make([]candleRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.batchUpsert(ctx, batch); err != nil {
		w.logger.Error("batch upsert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed candles",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchUpsert upserts rows keyed on (symbol, timeframe, ts).
func (w *CandleWriter) batchUpsert(ctx context.Context, rows []candleRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO candles (symbol, timeframe, ts, open, high, low, close, volume, observed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (symbol, timeframe, ts) DO UPDATE
			SET open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			    close = EXCLUDED.close, volume = EXCLUDED.volume, observed_at = EXCLUDED.observed_at
		`, r.Symbol, r.Timeframe, r.Ts, r.Open, r.High, r.Low, r.Close, r.Volume, r.ObservedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}
