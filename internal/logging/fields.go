package logging

import (
	"log/slog"
	"strings"
)

// Structured field keys shared by every component.
const (
	FieldComponent = "component"
	FieldBatchID   = "batch_id"
	FieldItemID    = "item_id"
	FieldTicketID  = "ticket_id"
	FieldLeaseID   = "lease_id"
	FieldEventName = "event_name"
	// FieldEventType classifies a warning or error for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact says what the problem means for batches in flight.
	FieldImpact = "impact"
)

// NewComponentLogger tags logger with a component name. A nil logger
// yields a no-op logger.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// ForBatch scopes logger to one batch. The console format shows the batch
// in the line prefix.
func ForBatch(logger *slog.Logger, batchID string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return logger
	}
	return logger.With(String(FieldBatchID, batchID))
}

// ForItem scopes logger to one item of a batch.
func ForItem(logger *slog.Logger, batchID, itemID string) *slog.Logger {
	logger = ForBatch(logger, batchID)
	if itemID = strings.TrimSpace(itemID); itemID != "" {
		logger = logger.With(String(FieldItemID, itemID))
	}
	return logger
}
