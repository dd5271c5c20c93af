// Package poller seeds and refreshes candle history over REST. Live candle
// ticks only mutate the tail of a series; the poller fills in everything
// before the first tick and recovers candles missed across long disconnects.
package poller
