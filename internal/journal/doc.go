// Package journal persists realtime store events to PostgreSQL.
//
// The Writer is a store.Dispatcher. Each event becomes one append-only row in
// realtime_events:
//
//	workflow_id  text
//	event_type   text
//	payload      jsonb   (the event's JSON encoding)
//	recorded_at  timestamptz
//
// Rows are buffered, batched and written with pgx.Batch either when the batch
// fills or on the flush interval.
package journal
