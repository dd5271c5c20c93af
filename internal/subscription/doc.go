// Package subscription implements the Subscription Registry component.
//
// The registry:
//   - Reference-counts logical channels (global, per-bot)
//   - Sends SUBSCRIBE_BOT / UNSUBSCRIBE_BOT control frames on the wire
//   - Defers subscribes while the transport is down, flushed on reconnect
//   - Debounces unsubscribes with a grace window so a quick
//     unsubscribe/resubscribe pair sends no wire frames
//   - Replays the full desired set after every reconnect
package subscription
