package state

import (
	"botsync/internal/model"
	"botsync/internal/transport"
)

// Event is a reconciliation input applied by the store's run loop.
type Event interface {
	isEvent()
}

// SnapshotEvent is an authoritative full replacement of a channel's
// signals and positions (the server's answer to a subscribe).
type SnapshotEvent struct {
	Channel   model.Channel
	Bot       *model.Bot // Series metadata when the snapshot carries it
	Signals   []model.Signal
	Positions []model.Position
}

// SignalEvent is a single new-or-updated signal for a channel.
type SignalEvent struct {
	Channel model.Channel
	Signal  model.Signal
}

// PositionsEvent replaces the full positions list for a channel.
type PositionsEvent struct {
	Channel   model.Channel
	Positions []model.Position
}

// CandleTickEvent is one live candle update for a (symbol, timeframe) series.
type CandleTickEvent struct {
	Symbol    string
	Timeframe string
	Candle    model.Candle
}

// CandleSeriesEvent replaces the candle series for a (symbol, timeframe),
// used to seed history over REST and to resync after long disconnects.
type CandleSeriesEvent struct {
	Symbol    string
	Timeframe string
	Candles   []model.Candle
}

// ConnStateEvent records a transport state transition. Leaving open marks
// every channel stale; reconciled state is retained across reconnects.
type ConnStateEvent struct {
	State transport.State
}

func (SnapshotEvent) isEvent()     {}
func (SignalEvent) isEvent()       {}
func (PositionsEvent) isEvent()    {}
func (CandleTickEvent) isEvent()   {}
func (CandleSeriesEvent) isEvent() {}
func (ConnStateEvent) isEvent()    {}

// Series identifies one candle series a channel is watching.
type Series struct {
	Symbol    string
	Timeframe string
}

// View is a consistent, deep-copied read of one channel's state.
type View struct {
	Channel    model.Channel
	Bot        *model.Bot
	Candles    []model.Candle
	Signals    []model.Signal
	Positions  []model.Position
	Connection transport.State
	Stale      bool
	Version    uint64
}

// Change notifies watchers that a channel's state advanced to Version.
type Change struct {
	Channel model.Channel
	Version uint64
}

// Config holds store configuration.
type Config struct {
	InputBuffer int // Event channel buffer size
	MaxCandles  int // Per-channel candle series cap (oldest dropped)
	MaxSignals  int // Per-channel signal list cap (oldest dropped)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		InputBuffer: 1024,
		MaxCandles:  500,
		MaxSignals:  200,
	}
}

// Stats provides statistics about the store.
type Stats struct {
	Channels        int
	EventsApplied   int64
	EventsDiscarded int64 // Stale deltas and events for unknown channels
	Notifications   int64
	Watchers        int
	Connection      transport.State
}
