package model

// -----------------------------------------------------------------------------
// Channels
// -----------------------------------------------------------------------------

// ChannelKind identifies the scope of a subscription channel.
type ChannelKind string

const (
	// KindGlobal is the cross-bot feed (global signal ticker).
	KindGlobal ChannelKind = "global"

	// KindBot is a per-bot feed (signals, positions, candles for one bot).
	KindBot ChannelKind = "bot"
)

// Channel is a logical subscription scope multiplexed over one physical
// connection: either the global feed or a single bot's feed.
type Channel struct {
	Kind  ChannelKind
	BotID string // Empty for global
}

// GlobalChannel returns the cross-bot channel.
func GlobalChannel() Channel {
	return Channel{Kind: KindGlobal}
}

// BotChannel returns the channel for a single bot.
func BotChannel(botID string) Channel {
	return Channel{Kind: KindBot, BotID: botID}
}

// IsGlobal reports whether this is the cross-bot channel.
func (c Channel) IsGlobal() bool {
	return c.Kind == KindGlobal
}

// Key returns the canonical map key ("global" or "bot:<id>").
func (c Channel) Key() string {
	if c.Kind == KindGlobal {
		return "global"
	}
	return "bot:" + c.BotID
}

func (c Channel) String() string {
	return c.Key()
}

// -----------------------------------------------------------------------------
// Bots
// -----------------------------------------------------------------------------

// Bot is the metadata record for a watched trading bot.
type Bot struct {
	ID        string // Primary key
	Name      string // Display name
	Symbol    string // Traded symbol (e.g., "BTCUSDT")
	Timeframe string // Candle timeframe (e.g., "1m", "1h")
	Status    string // Backend-reported run status ("running", "stopped", ...)
}

// -----------------------------------------------------------------------------
// Candles
// -----------------------------------------------------------------------------

// Candle is one OHLCV bar. Time is epoch seconds aligned to the timeframe.
// Only the most recent (in-progress) candle is mutable; earlier candles are
// immutable once closed.
type Candle struct {
	Time   int64   // Open timestamp (epoch seconds, timeframe-aligned)
	Open   float64 // Open price
	High   float64 // High price
	Low    float64 // Low price
	Close  float64 // Close price
	Volume float64 // Traded volume
}

// -----------------------------------------------------------------------------
// Signals
// -----------------------------------------------------------------------------

// Decision is the trading decision carried by a signal.
type Decision string

const (
	DecisionBuy  Decision = "BUY"
	DecisionSell Decision = "SELL"
	DecisionHold Decision = "HOLD"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	switch d {
	case DecisionBuy, DecisionSell, DecisionHold:
		return true
	}
	return false
}

// Signal is a generated trading signal. Append-only except for Status, which
// only moves forward (see SignalStatus).
type Signal struct {
	ID         string   // Primary key
	BotID      string   // Empty on the global feed
	Symbol     string   // Traded symbol
	Decision   Decision // BUY, SELL, HOLD
	Price      float64  // Price at signal creation
	Confidence float64  // 0..1
	Status     SignalStatus
	CreatedTS  int64 // Creation time (epoch milliseconds)
}

// -----------------------------------------------------------------------------
// Positions
// -----------------------------------------------------------------------------

// PositionSide is the direction of an open position.
type PositionSide string

const (
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// Position is an open position held by a bot. Positions have no identity
// beyond (bot, symbol); the server replaces the full list on every update.
type Position struct {
	BotID         string
	Symbol        string
	Side          PositionSide // LONG or SHORT
	EntryPrice    float64
	Amount        float64
	UnrealizedPnL float64
}
