// Package transport implements the Transport Connection component.
//
// The transport:
//   - Maintains exactly one WebSocket connection to the bot backend
//   - Handles handshake, ping/pong heartbeat, and stale detection
//   - Reconnects with capped exponential backoff plus jitter
//   - Exposes connection state transitions (connecting/open/closed)
//     and raw inbound frames to the sync loop
package transport
