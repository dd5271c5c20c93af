// Package api provides the REST client for the trading backend. The stream
// carries live deltas; this client covers everything request-reply: candle
// history for seeding, the bot list, historical signals, backend liveness,
// and the control surface (start/stop bots, approve signals).
package api
