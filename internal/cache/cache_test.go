package cache

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"botsync/internal/model"
	"botsync/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEncodeDecodeView_RoundTrip(t *testing.T) {
	orig := state.View{
		Channel: model.BotChannel("bot-1"),
		Bot:     &model.Bot{ID: "bot-1", Name: "momentum", Symbol: "BTCUSDT", Timeframe: "1m", Status: "running"},
		Candles: []model.Candle{{Time: 60, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}},
		Signals: []model.Signal{{
			ID: "sig-1", BotID: "bot-1", Symbol: "BTCUSDT",
			Decision: model.DecisionBuy, Price: 50000, Confidence: 0.8,
			Status: model.StatusCompleted, CreatedTS: 1000,
		}},
		Positions: []model.Position{{BotID: "bot-1", Symbol: "BTCUSDT", Side: model.SideLong, EntryPrice: 49000, Amount: 0.5}},
		Stale:     false,
		Version:   42,
	}

	b, err := encodeView(orig)
	if err != nil {
		t.Fatalf("encodeView: %v", err)
	}
	got, err := decodeView(b)
	if err != nil {
		t.Fatalf("decodeView: %v", err)
	}

	if got.Channel != orig.Channel {
		t.Errorf("channel = %v, want %v", got.Channel, orig.Channel)
	}
	if got.Bot == nil || got.Bot.Name != "momentum" {
		t.Errorf("bot = %+v, want momentum", got.Bot)
	}
	if len(got.Candles) != 1 || got.Candles[0].Close != 1.5 {
		t.Errorf("candles = %+v", got.Candles)
	}
	if len(got.Signals) != 1 || got.Signals[0].Status != model.StatusCompleted {
		t.Errorf("signals = %+v", got.Signals)
	}
	if got.Version != 42 {
		t.Errorf("version = %d, want 42", got.Version)
	}
	// Loaded views are always stale until the stream re-syncs them
	if !got.Stale {
		t.Error("decoded view should be stale")
	}
}

func TestDecodeView_RejectsUnknownKind(t *testing.T) {
	if _, err := decodeView([]byte(`{"kind":"market","version":1}`)); err == nil {
		t.Fatal("expected error for unknown channel kind")
	}
}

func TestDecodeView_RejectsGarbage(t *testing.T) {
	if _, err := decodeView([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for invalid json")
	}
}

// fakeSaver records saves and deletes.
type fakeSaver struct {
	mu      sync.Mutex
	saves   []state.View
	deletes []model.Channel
	err     error
}

func (f *fakeSaver) Save(_ context.Context, v state.View) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saves = append(f.saves, v)
	return nil
}

func (f *fakeSaver) Delete(_ context.Context, ch model.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, ch)
	return nil
}

func (f *fakeSaver) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

// fakeSource serves canned views and a hand-fed change channel.
type fakeSource struct {
	mu      sync.Mutex
	views   map[string]state.View
	changes chan []state.Change
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		views:   make(map[string]state.View),
		changes: make(chan []state.Change, 8),
	}
}

func (f *fakeSource) GetState(ch model.Channel) (state.View, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.views[ch.Key()]
	return v, ok
}

func (f *fakeSource) Watch(int) (<-chan []state.Change, func()) {
	return f.changes, func() { close(f.changes) }
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestMirror_PersistsChangedViews(t *testing.T) {
	saver := &fakeSaver{}
	source := newFakeSource()
	ch := model.BotChannel("bot-1")
	source.views[ch.Key()] = state.View{Channel: ch, Version: 7}

	m := NewMirror(saver, source, testLogger())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(context.Background())

	source.changes <- []state.Change{{Channel: ch, Version: 7}}

	waitFor(t, func() bool { return saver.saveCount() == 1 }, "view was not saved")

	saver.mu.Lock()
	saved := saver.saves[0]
	saver.mu.Unlock()
	if saved.Channel != ch || saved.Version != 7 {
		t.Errorf("saved view = %+v", saved)
	}

	stats := m.Stats()
	if stats.Saves != 1 || stats.Errors != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestMirror_DeletesReleasedChannels(t *testing.T) {
	saver := &fakeSaver{}
	source := newFakeSource()
	ch := model.BotChannel("gone")

	m := NewMirror(saver, source, testLogger())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(context.Background())

	// Channel not present in the source: change arrives after release
	source.changes <- []state.Change{{Channel: ch, Version: 3}}

	waitFor(t, func() bool { return m.Stats().Deletes == 1 }, "released channel was not deleted")

	saver.mu.Lock()
	defer saver.mu.Unlock()
	if len(saver.deletes) != 1 || saver.deletes[0] != ch {
		t.Errorf("deletes = %+v", saver.deletes)
	}
}

func TestMirror_SaveErrorCountedNotFatal(t *testing.T) {
	saver := &fakeSaver{err: context.DeadlineExceeded}
	source := newFakeSource()
	ch := model.BotChannel("bot-1")
	source.views[ch.Key()] = state.View{Channel: ch, Version: 1}

	m := NewMirror(saver, source, testLogger())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	source.changes <- []state.Change{{Channel: ch, Version: 1}}
	waitFor(t, func() bool { return m.Stats().Errors == 1 }, "error was not counted")

	// Mirror keeps running after the failure
	saver.mu.Lock()
	saver.err = nil
	saver.mu.Unlock()
	source.changes <- []state.Change{{Channel: ch, Version: 2}}
	waitFor(t, func() bool { return m.Stats().Saves == 1 }, "mirror stopped after error")

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestMirror_StopDrains(t *testing.T) {
	saver := &fakeSaver{}
	source := newFakeSource()

	m := NewMirror(saver, source, testLogger())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
