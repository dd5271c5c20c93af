// Package sync wires the transport, subscription registry, router and store
// into one lifecycle. The syncer owns start/stop ordering, keeps the global
// feed subscribed, and pumps connection state transitions into the store
// (staleness) and the registry (resubscribe replay after reconnect).
package sync
