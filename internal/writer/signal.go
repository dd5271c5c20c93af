package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"botsync/internal/router"
)

// SignalWriter consumes SignalEntry from the router journal and writes to
// the signal_events table.
type SignalWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from Message Router
	input *router.Buffer[router.SignalEntry]

	// Database
	db batchSender

	// Batching
	batch       []signalRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewSignalWriter creates a new SignalWriter.
func NewSignalWriter(
	cfg WriterConfig,
	input *router.Buffer[router.SignalEntry],
	db batchSender,
	logger *slog.Logger,
) *SignalWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]signalRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming entries and writing to the database.
func (w *SignalWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("signal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer.
func (w *SignalWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping signal writer")

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
		w.logger.Info("signal writer stopped")
	case <-ctx.Done():
		w.logger.Warn("signal writer stop timed out")
	}

	// Final flush on a fresh context: w.ctx is already cancelled here and
	// would fail the last batch.
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flush(flushCtx)

	return nil
}

// Stats returns current metrics.
func (w *SignalWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the journal and accumulates batches.
func (w *SignalWriter) consumeLoop() {
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
func (w *SignalWriter) flushLoop() {
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

// handleEntry transforms and adds an entry to the batch.
func (w *SignalWriter) handleEntry(entry router.SignalEntry) {
	row := w.transform(entry)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// transform converts a SignalEntry to a signalRow.
func (w *SignalWriter) transform(entry router.SignalEntry) signalRow {
	return signalRow{
		SignalID:   entry.Signal.ID,
		BotID:      entry.Signal.BotID,
		Symbol:     entry.Signal.Symbol,
		Decision:   string(entry.Signal.Decision),
		Price:      entry.Signal.Price,
		Confidence: entry.Signal.Confidence,
		Status:     string(entry.Signal.Status),
		CreatedTS:  entry.Signal.CreatedTS,
		ObservedAt: entry.ObservedAt.UnixMilli(),
	}
}

// flush writes the current batch to the database.
func (w *SignalWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	batch := w.batch
	w.batch = make([]signalRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed signal events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch. A transition already journaled
// (same signal and status, replayed across a reconnect) is a conflict.
func (w *SignalWriter) batchInsert(ctx context.Context, rows []signalRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO signal_events (signal_id, bot_id, symbol, decision, price, confidence, status, created_ts, observed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (signal_id, status) DO NOTHING
		`, r.SignalID, r.BotID, r.Symbol, r.Decision, r.Price, r.Confidence, r.Status, r.CreatedTS, r.ObservedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
