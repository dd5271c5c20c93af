package router

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"botsync/internal/model"
	"botsync/internal/state"
	"botsync/internal/transport"
)

// fakeSink records the events and bot metadata the router emits.
type fakeSink struct {
	mu     sync.Mutex
	events []state.Event
	bots   map[string]model.Bot
}

func newFakeSink() *fakeSink {
	return &fakeSink{bots: make(map[string]model.Bot)}
}

func (f *fakeSink) Enqueue(ev state.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return true
}

func (f *fakeSink) SetChannelBot(ch model.Channel, bot model.Bot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bots[ch.Key()] = bot
}

func (f *fakeSink) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeSink) event(i int) state.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[i]
}

func startRouter(t *testing.T, cfg RouterConfig) (chan transport.RawFrame, *fakeSink, Router) {
	t.Helper()

	input := make(chan transport.RawFrame, 10)
	sink := newFakeSink()
	r := NewRouter(cfg, input, sink, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r.Stop(ctx)
	})
	return input, sink, r
}

func frame(t *testing.T, v map[string]interface{}) transport.RawFrame {
	t.Helper()

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return transport.RawFrame{Data: data, ReceivedAt: time.Now()}
}

func waitEvents(t *testing.T, sink *fakeSink, n int) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sink.eventCount() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("got %d events, want %d", sink.eventCount(), n)
}

func TestRouter_StartStop(t *testing.T) {
	input := make(chan transport.RawFrame, 10)
	r := NewRouter(DefaultRouterConfig(), input, newFakeSink(), nil)

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := r.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestRouter_RouteBotSnapshot(t *testing.T) {
	input, sink, _ := startRouter(t, DefaultRouterConfig())

	input <- frame(t, map[string]interface{}{
		"type":   "bot_snapshot",
		"bot_id": "b1",
		"data": map[string]interface{}{
			"bot": map[string]interface{}{
				"id": "b1", "name": "momentum", "symbol": "BTCUSDT",
				"timeframe": "1m", "status": "running",
			},
			"signals": []map[string]interface{}{
				{"id": "s1", "bot_id": "b1", "symbol": "BTCUSDT", "decision": "BUY",
					"price": 50000.0, "confidence": 0.8, "status": "completed", "created_ts": 1000},
			},
			"positions": []map[string]interface{}{
				{"bot_id": "b1", "symbol": "BTCUSDT", "side": "LONG",
					"entry_price": 49000.0, "amount": 0.5, "unrealized_pnl": 500.0},
			},
		},
	})

	waitEvents(t, sink, 1)

	ev, ok := sink.event(0).(state.SnapshotEvent)
	if !ok {
		t.Fatalf("event = %T, want SnapshotEvent", sink.event(0))
	}
	if ev.Channel.Key() != "bot:b1" {
		t.Errorf("channel = %s, want bot:b1", ev.Channel.Key())
	}
	if ev.Bot == nil || ev.Bot.Symbol != "BTCUSDT" {
		t.Errorf("bot = %+v, want BTCUSDT metadata", ev.Bot)
	}
	if len(ev.Signals) != 1 || ev.Signals[0].ID != "s1" {
		t.Errorf("signals = %+v, want [s1]", ev.Signals)
	}
	if len(ev.Positions) != 1 || ev.Positions[0].Side != model.SideLong {
		t.Errorf("positions = %+v, want one LONG", ev.Positions)
	}

	// Series metadata registered for candle routing.
	if bot, ok := sink.bots["bot:b1"]; !ok || bot.Timeframe != "1m" {
		t.Errorf("channel bot = %+v, want 1m timeframe", sink.bots["bot:b1"])
	}
}

func TestRouter_SnapshotSkipsInvalidEntity(t *testing.T) {
	input, sink, r := startRouter(t, DefaultRouterConfig())

	input <- frame(t, map[string]interface{}{
		"type":   "bot_snapshot",
		"bot_id": "b1",
		"data": map[string]interface{}{
			"signals": []map[string]interface{}{
				{"id": "good", "decision": "BUY", "status": "processing", "created_ts": 1000},
				{"id": "bad", "decision": "YOLO", "status": "processing", "created_ts": 2000},
			},
		},
	})

	waitEvents(t, sink, 1)

	ev := sink.event(0).(state.SnapshotEvent)
	if len(ev.Signals) != 1 || ev.Signals[0].ID != "good" {
		t.Errorf("signals = %+v, want only the valid entity", ev.Signals)
	}
	// The frame itself still routed.
	if got := r.Stats().EventsRouted; got != 1 {
		t.Errorf("EventsRouted = %d, want 1", got)
	}
}

func TestRouter_RouteSignalToBotChannel(t *testing.T) {
	input, sink, _ := startRouter(t, DefaultRouterConfig())

	input <- frame(t, map[string]interface{}{
		"type":   "signal_new",
		"bot_id": "b1",
		"data": map[string]interface{}{
			"id": "s1", "bot_id": "b1", "symbol": "BTCUSDT", "decision": "SELL",
			"price": 51000.0, "confidence": 0.9, "status": "processing", "created_ts": 2000,
		},
	})

	waitEvents(t, sink, 1)

	ev, ok := sink.event(0).(state.SignalEvent)
	if !ok {
		t.Fatalf("event = %T, want SignalEvent", sink.event(0))
	}
	if ev.Channel.Key() != "bot:b1" {
		t.Errorf("channel = %s, want bot:b1", ev.Channel.Key())
	}
	if ev.Signal.Decision != model.DecisionSell {
		t.Errorf("decision = %s, want SELL", ev.Signal.Decision)
	}
	if ev.Signal.Status != model.StatusProcessing {
		t.Errorf("status = %s, want processing", ev.Signal.Status)
	}
	if ev.Signal.CreatedTS != 2000 {
		t.Errorf("created_ts = %d, want 2000", ev.Signal.CreatedTS)
	}
}

func TestRouter_SignalWithoutBotIDGoesGlobal(t *testing.T) {
	input, sink, _ := startRouter(t, DefaultRouterConfig())

	input <- frame(t, map[string]interface{}{
		"type": "signal_update",
		"data": map[string]interface{}{
			"id": "s1", "symbol": "BTCUSDT", "decision": "BUY",
			"status": "accepted", "created_ts": 1000,
		},
	})

	waitEvents(t, sink, 1)

	ev := sink.event(0).(state.SignalEvent)
	if !ev.Channel.IsGlobal() {
		t.Errorf("channel = %s, want global", ev.Channel.Key())
	}
}

func TestRouter_RoutePositionUpdate(t *testing.T) {
	input, sink, _ := startRouter(t, DefaultRouterConfig())

	input <- frame(t, map[string]interface{}{
		"type":   "position_update",
		"bot_id": "b1",
		"data": map[string]interface{}{
			"positions": []map[string]interface{}{
				{"bot_id": "b1", "symbol": "BTCUSDT", "side": "SHORT",
					"entry_price": 52000.0, "amount": 1.0, "unrealized_pnl": -100.0},
			},
		},
	})

	waitEvents(t, sink, 1)

	ev, ok := sink.event(0).(state.PositionsEvent)
	if !ok {
		t.Fatalf("event = %T, want PositionsEvent", sink.event(0))
	}
	if len(ev.Positions) != 1 || ev.Positions[0].Side != model.SideShort {
		t.Errorf("positions = %+v, want one SHORT", ev.Positions)
	}
}

func TestRouter_EmptyPositionUpdateStillRoutes(t *testing.T) {
	input, sink, _ := startRouter(t, DefaultRouterConfig())

	// An empty list means every position closed, it must not be dropped.
	input <- frame(t, map[string]interface{}{
		"type":   "position_update",
		"bot_id": "b1",
		"data":   map[string]interface{}{"positions": []map[string]interface{}{}},
	})

	waitEvents(t, sink, 1)

	ev := sink.event(0).(state.PositionsEvent)
	if len(ev.Positions) != 0 {
		t.Errorf("positions = %+v, want empty", ev.Positions)
	}
}

func TestRouter_RouteCandleUpdate(t *testing.T) {
	input, sink, _ := startRouter(t, DefaultRouterConfig())

	input <- frame(t, map[string]interface{}{
		"type": "candle_update",
		"data": map[string]interface{}{
			"symbol": "BTCUSDT", "timeframe": "1m",
			"candle": map[string]interface{}{
				"time": 1700000040, "open": 50000.0, "high": 50100.0,
				"low": 49900.0, "close": 50050.0, "volume": 12.5,
			},
		},
	})

	waitEvents(t, sink, 1)

	ev, ok := sink.event(0).(state.CandleTickEvent)
	if !ok {
		t.Fatalf("event = %T, want CandleTickEvent", sink.event(0))
	}
	if ev.Symbol != "BTCUSDT" || ev.Timeframe != "1m" {
		t.Errorf("series = %s/%s, want BTCUSDT/1m", ev.Symbol, ev.Timeframe)
	}
	if ev.Candle.Time != 1700000040 {
		t.Errorf("candle time = %d, want 1700000040", ev.Candle.Time)
	}
	if ev.Candle.Close != 50050.0 {
		t.Errorf("candle close = %v, want 50050", ev.Candle.Close)
	}
}

func TestRouter_HeartbeatCountedNotRouted(t *testing.T) {
	input, sink, r := startRouter(t, DefaultRouterConfig())

	input <- frame(t, map[string]interface{}{"type": "heartbeat"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && r.Stats().Heartbeats == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	stats := r.Stats()
	if stats.Heartbeats != 1 {
		t.Errorf("Heartbeats = %d, want 1", stats.Heartbeats)
	}
	if sink.eventCount() != 0 {
		t.Errorf("events = %d, want 0", sink.eventCount())
	}
}

func TestRouter_UnknownTypeDropped(t *testing.T) {
	input, sink, r := startRouter(t, DefaultRouterConfig())

	input <- frame(t, map[string]interface{}{"type": "server_gossip"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && r.Stats().UnknownFrames == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	if got := r.Stats().UnknownFrames; got != 1 {
		t.Errorf("UnknownFrames = %d, want 1", got)
	}
	if sink.eventCount() != 0 {
		t.Errorf("events = %d, want 0", sink.eventCount())
	}
}

func TestRouter_MalformedFrameDropped(t *testing.T) {
	input, sink, r := startRouter(t, DefaultRouterConfig())

	input <- transport.RawFrame{Data: []byte("{not json"), ReceivedAt: time.Now()}
	// The loop survives; a good frame after a corrupt one still routes.
	input <- frame(t, map[string]interface{}{
		"type": "signal_new",
		"data": map[string]interface{}{
			"id": "s1", "decision": "BUY", "status": "processing", "created_ts": 1000,
		},
	})

	waitEvents(t, sink, 1)

	if got := r.Stats().ParseErrors; got != 1 {
		t.Errorf("ParseErrors = %d, want 1", got)
	}
}

func TestRouter_JournalFanOut(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.Journal = true
	input, sink, r := startRouter(t, cfg)

	input <- frame(t, map[string]interface{}{
		"type":   "signal_new",
		"bot_id": "b1",
		"data": map[string]interface{}{
			"id": "s1", "decision": "BUY", "status": "processing", "created_ts": 1000,
		},
	})
	input <- frame(t, map[string]interface{}{
		"type": "candle_update",
		"data": map[string]interface{}{
			"symbol": "BTCUSDT", "timeframe": "1m",
			"candle": map[string]interface{}{"time": 1700000040, "close": 50050.0},
		},
	})

	waitEvents(t, sink, 2)

	journals := r.Journals()
	if entry, ok := journals.Signals.TryReceive(); !ok || entry.Signal.ID != "s1" {
		t.Errorf("signal journal entry = %+v ok = %v, want s1", entry, ok)
	}
	if entry, ok := journals.Candles.TryReceive(); !ok || entry.Symbol != "BTCUSDT" {
		t.Errorf("candle journal entry = %+v ok = %v, want BTCUSDT", entry, ok)
	}
}

func TestRouter_JournalDisabledByDefault(t *testing.T) {
	input, sink, r := startRouter(t, DefaultRouterConfig())

	input <- frame(t, map[string]interface{}{
		"type": "candle_update",
		"data": map[string]interface{}{
			"symbol": "BTCUSDT", "timeframe": "1m",
			"candle": map[string]interface{}{"time": 1700000040},
		},
	})

	waitEvents(t, sink, 1)

	if n := r.Journals().Candles.Len(); n != 0 {
		t.Errorf("candle journal len = %d, want 0 when journaling is off", n)
	}
}
