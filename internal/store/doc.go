// Package store persists batch and item completion state.
//
// Two implementations share one contract: Store keeps batches, items and
// gate leases in SQLite; MemoryStore keeps them in maps guarded by a mutex.
// Item records move from pending to completed exactly once through a
// compare-and-set update keyed on a per-row version token, so duplicate or
// racing completion signals never double count. Both implementations answer
// IsFullyCompleted from the rows themselves rather than from a cached count.
//
// Dispatch bookkeeping for the worker lane lives on the item row as well:
// an accepted completion may queue the item, the lane claims it with a ticket,
// and the ticket ends as done, error or expired.
//
// Schema changes bump schemaVersion in schema.go; operators delete the
// database to adopt the new layout.
package store
