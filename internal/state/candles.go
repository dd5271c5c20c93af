package state

import "botsync/internal/model"

// applyCandleSeries replaces the channel's candle series wholesale.
// The series is the authoritative resync point; ordering is taken as
// delivered (FIFO per channel), never re-sorted.
func (cs *channelState) applyCandleSeries(candles []model.Candle, maxCandles int) {
	series := make([]model.Candle, len(candles))
	copy(series, candles)

	if maxCandles > 0 && len(series) > maxCandles {
		series = series[len(series)-maxCandles:]
	}
	cs.candles = series
}

// applyCandleTick merges one live candle update:
//   - same timestamp as the series tail: replace in place (in-progress tick)
//   - strictly newer: append as a new candle
//   - older: discard as stale (out-of-order delivery, not a sort error)
//
// Returns false when the tick was discarded.
func (cs *channelState) applyCandleTick(c model.Candle, maxCandles int) bool {
	n := len(cs.candles)
	if n == 0 {
		cs.candles = append(cs.candles, c)
		return true
	}

	last := cs.candles[n-1]
	switch {
	case c.Time == last.Time:
		cs.candles[n-1] = c
		return true

	case c.Time > last.Time:
		cs.candles = append(cs.candles, c)
		if maxCandles > 0 && len(cs.candles) > maxCandles {
			cs.candles = cs.candles[len(cs.candles)-maxCandles:]
		}
		return true

	default:
		// Stale tick.
		return false
	}
}

// watchesSeries reports whether this channel's bot trades the given series.
func (cs *channelState) watchesSeries(symbol, timeframe string) bool {
	return cs.bot != nil && cs.bot.Symbol == symbol && cs.bot.Timeframe == timeframe
}
