// Package workflow runs the batch fan-in coordinator.
//
// The Manager creates batches over a fixed set of item ids, routes completion
// signals to a per-batch instance, and finalizes each batch exactly once as
// completed (every expected item reported) or timed out (the wait window
// passed without a new completion). Each instance is one goroutine that
// handles its signals strictly in order; the durable store is the only
// authority on which items are done, so a restarted daemon resumes every
// running batch from the store.
//
// Accepted completions can queue follow-up work for a long-running external
// worker. The dispatch lane hands that work out one item at a time under the
// named singleton gate: an item waits while another holds the lease, and the
// lease is returned when the worker reports WorkDone or when it expires.
// Dispatch failures are recorded on the item and never hold up the batch.
package workflow
