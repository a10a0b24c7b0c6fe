// Package history records delivered notifications in PostgreSQL.
//
// The Writer is a notification sink: each delivered notification is queued
// and written in batches. Rows are keyed by dedup key and inserted with
// ON CONFLICT DO NOTHING, so a restart that redelivers a notification (the
// dedup ledger is memory-only) leaves a single row.
package history
