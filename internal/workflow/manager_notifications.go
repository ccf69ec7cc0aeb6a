package workflow

import (
	"context"
	"errors"

	"fanin/internal/logging"
	"fanin/internal/notifications"
	"fanin/internal/store"
)

// onFinalized logs and announces a batch this process moved to a terminal status.
func (m *Manager) onFinalized(ctx context.Context, batchID string, status store.Status) {
	logger := logging.ForBatch(m.logger, batchID)
	rec, err := m.store.GetBatch(ctx, batchID)
	if err != nil {
		logger.Info("batch finalized", logging.String("status", string(status)))
		if !errors.Is(err, context.Canceled) {
			logger.Debug("batch totals unavailable; notification skipped", logging.Error(err))
		}
		return
	}

	attrs := []logging.Attr{
		logging.String("status", string(status)),
		logging.Int("completed", rec.CompletedCount),
		logging.Int("expected", rec.ExpectedCount),
		logging.Int64("bytes", rec.TotalBytes),
	}
	event := notifications.EventBatchCompleted
	if status == store.StatusTimedOut {
		event = notifications.EventBatchTimedOut
		logging.WarnWithContext(logger, "batch timed out", "batch_timed_out", append(attrs,
			logging.String(logging.FieldErrorHint, "check producers for items that never reported"),
			logging.String(logging.FieldImpact, "pending items are reported in the batch result"),
		)...)
	} else {
		logger.Info("batch completed", logging.Args(attrs...)...)
	}

	m.publish(ctx, event, notifications.Payload{
		"batchId":   batchID,
		"completed": rec.CompletedCount,
		"expected":  rec.ExpectedCount,
		"bytes":     rec.TotalBytes,
	})
}

func (m *Manager) notifyDispatchError(ctx context.Context, item *store.ItemRecord, dispatchErr error) {
	m.publish(ctx, notifications.EventDispatchError, notifications.Payload{
		"batchId": item.BatchID,
		"itemId":  item.ItemID,
		"error":   dispatchErr.Error(),
	})
}

func (m *Manager) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not send notification", logging.String("event", string(event)))
			return
		}
		m.logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}
