package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"fanin/internal/api"
	"fanin/internal/correlate"
	"fanin/internal/gate"
	"fanin/internal/logging"
	"fanin/internal/store"
)

// Signal records that itemID of batchID completed. Signals for one batch are
// handled one at a time on its instance. Only store failures and context
// cancellation are returned as errors; every other case is an Outcome.
func (m *Manager) Signal(ctx context.Context, batchID, itemID string, bytes int64) (Outcome, error) {
	if !m.Running() {
		return "", ErrNotRunning
	}
	batchID = strings.TrimSpace(batchID)
	itemID = strings.TrimSpace(itemID)
	inst, outcome, err := m.lookup(ctx, batchID)
	if err != nil || inst == nil {
		return outcome, err
	}

	req := signalRequest{itemID: itemID, bytes: bytes, reply: make(chan signalReply, 1)}
	select {
	case inst.signals <- req:
	case <-inst.done:
		if inst.status.Terminal() {
			return OutcomeClosed, nil
		}
		return "", ErrNotRunning
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case reply := <-req.reply:
		if reply.err != nil {
			m.setLastError(reply.err)
		}
		return reply.outcome, reply.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Ingest correlates a raw signal and routes it. Unmatched signals are logged
// and reported, never returned as errors.
func (m *Manager) Ingest(ctx context.Context, sig api.Signal) (api.SignalResponse, error) {
	target, err := m.correlator.Correlate(sig)
	if err != nil {
		logging.WarnWithContext(m.logger, "unmatched signal dropped", "signal_unmatched",
			logging.String(logging.FieldEventName, sig.EventName),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "name events <prefix>:<batchId> and include the item id"),
			logging.String(logging.FieldImpact, "signal discarded"),
		)
		return api.SignalResponse{Outcome: string(OutcomeUnmatched), Detail: err.Error()}, nil
	}

	var outcome Outcome
	switch target.Kind {
	case correlate.KindWorkDone:
		outcome, err = m.WorkDone(ctx, target.BatchID, target.ItemID)
	default:
		outcome, err = m.Signal(ctx, target.BatchID, target.ItemID, target.Bytes)
	}
	if err != nil {
		return api.SignalResponse{}, err
	}
	return api.SignalResponse{Outcome: string(outcome), BatchID: target.BatchID, ItemID: target.ItemID}, nil
}

// WorkDone records that the worker finished the item it was dispatched and
// returns the gate lease so the next queued item can start.
func (m *Manager) WorkDone(ctx context.Context, batchID, itemID string) (Outcome, error) {
	logger := logging.ForItem(m.logger, batchID, itemID)
	item, err := m.store.GetItem(ctx, batchID, itemID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Debug("work done for unknown item ignored")
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}
	if item.DispatchState != store.DispatchDispatched || item.TicketID == "" {
		logger.Debug("work done for item without open ticket", logging.String("dispatch_state", string(item.DispatchState)))
		return OutcomeDuplicate, nil
	}

	finished, err := m.store.FinishDispatch(ctx, item.TicketID, store.DispatchDone, "")
	if err != nil {
		return "", err
	}
	if !finished {
		return OutcomeDuplicate, nil
	}
	logger.Info("work done", logging.String(logging.FieldTicketID, item.TicketID))

	if err := m.releaseTicket(ctx, item.TicketID); err != nil {
		return "", err
	}
	m.kickDispatch()
	return OutcomeAccepted, nil
}

// releaseTicket returns the gate lease when ticketID still holds it.
func (m *Manager) releaseTicket(ctx context.Context, ticketID string) error {
	if m.gate == nil {
		return nil
	}
	lease, err := m.gate.Current(ctx)
	if err != nil || lease == nil || lease.Holder != ticketID {
		return err
	}
	return m.gate.Release(ctx, *lease)
}

// TicketExpiryHandler marks the ticket behind an expired lease as expired so
// the item no longer shows as in flight.
func TicketExpiryHandler(st Store, logger *slog.Logger) gate.ExpiryHandler {
	logger = logging.NewComponentLogger(logger, "coordinator")
	return func(ctx context.Context, lease store.Lease) {
		if lease.Holder == "" {
			return
		}
		if _, err := st.FinishDispatch(ctx, lease.Holder, store.DispatchExpired, "lease expired before work done"); err != nil {
			logger.Debug("expire ticket failed",
				logging.String(logging.FieldTicketID, lease.Holder),
				logging.Error(err),
			)
		}
	}
}
