// Package writer archives the observed stream to Postgres. Writers drain the
// router's journal buffers, batch rows, and flush on size or interval with
// pgx batches. Archival is optional and fully decoupled: a slow or down
// database never backs up into reconciliation.
package writer
