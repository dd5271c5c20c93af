package writer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"botsync/internal/model"
	"botsync/internal/router"
)

// fakeBatchSender records the state of the context each SendBatch call
// arrives with.
type fakeBatchSender struct {
	mu      sync.Mutex
	ctxErrs []error
}

func (f *fakeBatchSender) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.mu.Unlock()
	return fakeBatchResults{}
}

func (f *fakeBatchSender) calls() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.ctxErrs...)
}

type fakeBatchResults struct{}

func (fakeBatchResults) Exec() (pgconn.CommandTag, error) { return pgconn.CommandTag{}, nil }
func (fakeBatchResults) Query() (pgx.Rows, error)         { return nil, nil }
func (fakeBatchResults) QueryRow() pgx.Row                { return nil }
func (fakeBatchResults) Close() error                     { return nil }

func TestSignalWriter_Transform(t *testing.T) {
	cfg := DefaultWriterConfig()
	input := router.NewBuffer[router.SignalEntry](10, 100)
	w := NewSignalWriter(cfg, input, nil, nil)

	observedAt := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	entry := router.SignalEntry{
		Signal: model.Signal{
			ID:         "sig-123",
			BotID:      "b1",
			Symbol:     "BTCUSDT",
			Decision:   model.DecisionBuy,
			Price:      50000.5,
			Confidence: 0.85,
			Status:     model.StatusAccepted,
			CreatedTS:  1755691200000,
		},
		ObservedAt: observedAt,
	}

	row := w.transform(entry)

	if row.SignalID != "sig-123" {
		t.Errorf("SignalID = %s, want sig-123", row.SignalID)
	}
	if row.BotID != "b1" {
		t.Errorf("BotID = %s, want b1", row.BotID)
	}
	if row.Decision != "BUY" {
		t.Errorf("Decision = %s, want BUY", row.Decision)
	}
	if row.Status != "accepted" {
		t.Errorf("Status = %s, want accepted", row.Status)
	}
	if row.Price != 50000.5 {
		t.Errorf("Price = %v, want 50000.5", row.Price)
	}
	if row.CreatedTS != 1755691200000 {
		t.Errorf("CreatedTS = %d, want 1755691200000", row.CreatedTS)
	}
	if row.ObservedAt != observedAt.UnixMilli() {
		t.Errorf("ObservedAt = %d, want %d", row.ObservedAt, observedAt.UnixMilli())
	}
}

func TestSignalWriter_Lifecycle(t *testing.T) {
	cfg := WriterConfig{
		BatchSize:     10,
		FlushInterval: 100 * time.Millisecond,
	}
	input := router.NewBuffer[router.SignalEntry](10, 100)

	// No database: this exercises the goroutine lifecycle only.
	w := NewSignalWriter(cfg, input, nil, nil)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := w.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestSignalWriter_HandleEntry_AddsToBatch(t *testing.T) {
	cfg := WriterConfig{
		BatchSize:     100, // Large batch so no auto-flush
		FlushInterval: time.Hour,
	}
	input := router.NewBuffer[router.SignalEntry](10, 100)
	w := NewSignalWriter(cfg, input, nil, nil)

	w.handleEntry(router.SignalEntry{
		Signal:     model.Signal{ID: "s1", Status: model.StatusProcessing},
		ObservedAt: time.Now(),
	})
	w.handleEntry(router.SignalEntry{
		Signal:     model.Signal{ID: "s1", Status: model.StatusAccepted},
		ObservedAt: time.Now(),
	})

	w.batchMu.Lock()
	batchLen := len(w.batch)
	w.batchMu.Unlock()

	// One row per transition, transitions are not collapsed.
	if batchLen != 2 {
		t.Errorf("batch length = %d, want 2", batchLen)
	}
}

func TestSignalWriter_FinalFlushUsesLiveContext(t *testing.T) {
	cfg := WriterConfig{
		BatchSize:     100, // Large batch so nothing flushes before Stop
		FlushInterval: time.Hour,
	}
	input := router.NewBuffer[router.SignalEntry](10, 100)
	db := &fakeBatchSender{}
	w := NewSignalWriter(cfg, input, db, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	w.handleEntry(router.SignalEntry{
		Signal:     model.Signal{ID: "s1", Status: model.StatusAccepted},
		ObservedAt: time.Now(),
	})

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	calls := db.calls()
	if len(calls) != 1 {
		t.Fatalf("SendBatch calls = %d, want 1", len(calls))
	}
	// The writer's own context is cancelled by Stop; the shutdown flush must
	// run on a context that is still live or the last batch is always lost.
	if calls[0] != nil {
		t.Errorf("final flush ran on a dead context: %v", calls[0])
	}
}

func TestSignalWriter_Stats(t *testing.T) {
	cfg := DefaultWriterConfig()
	input := router.NewBuffer[router.SignalEntry](10, 100)
	w := NewSignalWriter(cfg, input, nil, nil)

	stats := w.Stats()

	if stats.Inserts != 0 {
		t.Errorf("initial Inserts = %d, want 0", stats.Inserts)
	}
	if stats.Errors != 0 {
		t.Errorf("initial Errors = %d, want 0", stats.Errors)
	}
}
