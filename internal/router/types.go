package router

import (
	"time"

	"botsync/internal/model"
)

// RouterConfig holds configuration for the Message Router.
type RouterConfig struct {
	// Journal enables fan-out of signal and candle events into the
	// archive buffers. Off by default; reconciliation never depends on it.
	Journal bool

	// Journal buffer sizing
	SignalJournalSize  int // Initial capacity. Default: 1000
	CandleJournalSize  int // Initial capacity. Default: 1000
	JournalMaxCapacity int // Growth ceiling before drop-oldest. Default: 65536
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		SignalJournalSize:  1000,
		CandleJournalSize:  1000,
		JournalMaxCapacity: 65536,
	}
}

// RouterJournals provides access to the journal buffers for writers.
type RouterJournals struct {
	Signals *Buffer[SignalEntry]
	Candles *Buffer[CandleEntry]
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	FramesReceived int64
	EventsRouted   int64
	ParseErrors    int64
	UnknownFrames  int64
	Heartbeats     int64
	SignalJournal  BufferStats
	CandleJournal  BufferStats
}

// SignalEntry is one observed signal event, journaled for archival.
// One entry per observed transition, not per signal.
type SignalEntry struct {
	Signal     model.Signal
	ObservedAt time.Time
}

// CandleEntry is one observed candle tick, journaled for archival.
type CandleEntry struct {
	Symbol     string
	Timeframe  string
	Candle     model.Candle
	ObservedAt time.Time
}

// Wire types for JSON parsing

// frameEnvelope is used for fast type extraction.
type frameEnvelope struct {
	Type  string `json:"type"`
	BotID string `json:"bot_id"`
}

// botWire is the wire format for bot metadata.
type botWire struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Status    string `json:"status"`
}

// signalWire is the wire format for signal entities.
type signalWire struct {
	ID         string  `json:"id"`
	BotID      string  `json:"bot_id"`
	Symbol     string  `json:"symbol"`
	Decision   string  `json:"decision"`
	Price      float64 `json:"price"`
	Confidence float64 `json:"confidence"`
	Status     string  `json:"status"`
	CreatedTS  int64   `json:"created_ts"` // Epoch milliseconds
}

// positionWire is the wire format for position entities.
type positionWire struct {
	BotID         string  `json:"bot_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	EntryPrice    float64 `json:"entry_price"`
	Amount        float64 `json:"amount"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// candleWire is the wire format for candle entities.
type candleWire struct {
	Time   int64   `json:"time"` // Epoch seconds, timeframe-aligned
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// botSnapshotWire is the wire format for bot_snapshot frames.
type botSnapshotWire struct {
	Data struct {
		Bot       *botWire       `json:"bot"`
		Signals   []signalWire   `json:"signals"`
		Positions []positionWire `json:"positions"`
	} `json:"data"`
}

// signalFrameWire is the wire format for signal_new / signal_update frames.
type signalFrameWire struct {
	Data signalWire `json:"data"`
}

// positionUpdateWire is the wire format for position_update frames.
type positionUpdateWire struct {
	Data struct {
		Positions []positionWire `json:"positions"`
	} `json:"data"`
}

// candleUpdateWire is the wire format for candle_update frames.
type candleUpdateWire struct {
	Data struct {
		Symbol    string     `json:"symbol"`
		Timeframe string     `json:"timeframe"`
		Candle    candleWire `json:"candle"`
	} `json:"data"`
}
