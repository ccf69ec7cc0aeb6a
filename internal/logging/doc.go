// Package logging builds the slog loggers used across fanin.
//
// The console format prints the component, the batch id and the item id as a
// line prefix so one batch can be followed with grep; the JSON format keeps
// them as ordinary fields. ForBatch and ForItem scope a logger, and
// WarnWithContext / ErrorWithContext attach the event_type, error_hint and
// impact fields operators filter on.
package logging
