// Package cache persists channel views to Redis so a restarted syncd can
// serve stale-marked state immediately while the stream reconnects.
package cache
