// Package model defines the domain types shared across the sync pipeline:
// channels, candles, signals, positions, and bot metadata.
package model
