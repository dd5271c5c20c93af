// Package router parses raw frames off the transport and turns them into
// typed reconciliation events for the store. Malformed frames are dropped
// with a warning; unknown frame types are ignored so a newer server can add
// message kinds without breaking older clients. When journaling is enabled
// the router also fans signal and candle events out to bounded buffers that
// the archive writers drain.
package router
