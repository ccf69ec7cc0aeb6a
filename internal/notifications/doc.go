// Package notifications delivers batch outcome events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Each event type can be switched off individually in the
// [notifications] section; suppressed events return nil without a request.
//
// Batch summaries include the item count and the human-readable byte total
// reported by completion signals.
package notifications
