package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"botsync/internal/api"
	"botsync/internal/state"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	candles map[string][]api.APICandle
	err     error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		calls:   make(map[string]int),
		candles: make(map[string][]api.APICandle),
	}
}

func (f *fakeFetcher) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]api.APICandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := symbol + "/" + timeframe
	f.calls[key]++
	if f.err != nil {
		return nil, f.err
	}
	return f.candles[key], nil
}

func (f *fakeFetcher) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

type fakeSource struct {
	series []state.Series
}

func (f *fakeSource) CandleSeries() []state.Series { return f.series }

type fakeSink struct {
	mu     sync.Mutex
	events []state.Event
}

func (f *fakeSink) Enqueue(ev state.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return true
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeSink) event(i int) state.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[i]
}

func TestPoller_SeedsOnStart(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.candles["BTCUSDT/1m"] = []api.APICandle{
		{Time: 1700000040, Close: 50050},
		{Time: 1700000100, Close: 50100},
	}
	source := &fakeSource{series: []state.Series{{Symbol: "BTCUSDT", Timeframe: "1m"}}}
	sink := &fakeSink{}

	cfg := DefaultConfig()
	cfg.Interval = time.Hour // Only the immediate seed in this test
	p := New(cfg, fetcher, source, sink, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Stop(ctx)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && sink.count() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	if sink.count() != 1 {
		t.Fatalf("events = %d, want 1", sink.count())
	}
	ev, ok := sink.event(0).(state.CandleSeriesEvent)
	if !ok {
		t.Fatalf("event = %T, want CandleSeriesEvent", sink.event(0))
	}
	if ev.Symbol != "BTCUSDT" || ev.Timeframe != "1m" {
		t.Errorf("series = %s/%s, want BTCUSDT/1m", ev.Symbol, ev.Timeframe)
	}
	if len(ev.Candles) != 2 || ev.Candles[1].Time != 1700000100 {
		t.Errorf("candles = %+v", ev.Candles)
	}
}

func TestPoller_RefreshesOnInterval(t *testing.T) {
	fetcher := newFakeFetcher()
	source := &fakeSource{series: []state.Series{{Symbol: "BTCUSDT", Timeframe: "1m"}}}
	sink := &fakeSink{}

	cfg := DefaultConfig()
	cfg.Interval = 30 * time.Millisecond
	p := New(cfg, fetcher, source, sink, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Stop(ctx)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && fetcher.callCount("BTCUSDT/1m") < 3 {
		time.Sleep(10 * time.Millisecond)
	}

	if got := fetcher.callCount("BTCUSDT/1m"); got < 3 {
		t.Errorf("calls = %d, want >= 3 (seed + interval refreshes)", got)
	}
}

func TestPoller_FetchErrorDoesNotEmit(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.err = errors.New("backend down")
	source := &fakeSource{series: []state.Series{{Symbol: "BTCUSDT", Timeframe: "1m"}}}
	sink := &fakeSink{}

	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	p := New(cfg, fetcher, source, sink, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Stop(ctx)
	}()

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && fetcher.callCount("BTCUSDT/1m") == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	if sink.count() != 0 {
		t.Errorf("events = %d, want 0 on fetch error", sink.count())
	}
}

func TestPoller_SeedNowCoversAllSeries(t *testing.T) {
	fetcher := newFakeFetcher()
	source := &fakeSource{series: []state.Series{
		{Symbol: "BTCUSDT", Timeframe: "1m"},
		{Symbol: "ETHUSDT", Timeframe: "5m"},
	}}
	sink := &fakeSink{}

	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	p := New(cfg, fetcher, source, sink, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Stop(ctx)
	}()

	p.SeedNow()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && sink.count() < 4 {
		time.Sleep(5 * time.Millisecond)
	}

	// Immediate seed plus SeedNow, both covering both series.
	if btc, eth := fetcher.callCount("BTCUSDT/1m"), fetcher.callCount("ETHUSDT/5m"); btc < 2 || eth < 2 {
		t.Errorf("calls = %d, %d, want >= 2 each", btc, eth)
	}
}

func TestPoller_StopWithoutStart(t *testing.T) {
	p := New(DefaultConfig(), newFakeFetcher(), &fakeSource{}, &fakeSink{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
