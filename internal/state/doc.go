// Package state implements the State Reconciler and Observable Store.
//
// The store:
//   - Owns the merged per-channel view (candles, signals, positions)
//   - Applies snapshot-then-delta events from a single run loop, so no
//     two events are ever reconciled concurrently
//   - Enforces the merge rules: candle ticks are tail-replace/append/
//     discard, signal statuses only move forward, positions are replaced
//     wholesale
//   - Notifies watchers with one coalesced change per affected channel
//     per dispatch tick
package state
