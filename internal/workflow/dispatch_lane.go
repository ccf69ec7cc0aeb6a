package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"fanin/internal/correlate"
	"fanin/internal/dispatch"
	"fanin/internal/gate"
	"fanin/internal/logging"
	"fanin/internal/store"
)

// cleanupTimeout bounds store and gate writes made after shutdown began.
const cleanupTimeout = 5 * time.Second

// runDispatchLane hands queued items to the worker one at a time. An item
// waits while the gate is held and is never dropped because of it.
func (m *Manager) runDispatchLane(ctx context.Context) {
	defer m.wg.Done()
	logger := m.logger.With(logging.String("lane", "dispatch"))

	for {
		if ctx.Err() != nil {
			return
		}

		item, err := m.store.NextQueuedDispatch(ctx)
		if err != nil {
			m.laneError(ctx, "failed to fetch next queued dispatch", err)
			continue
		}
		if item == nil {
			m.waitForWork(ctx, nil)
			continue
		}

		ticket := uuid.NewString()
		released := m.gate.Wait()
		lease, err := m.gate.TryAcquire(ctx, ticket)
		if errors.Is(err, gate.ErrBusy) {
			logging.ForItem(logger, item.BatchID, item.ItemID).Debug("worker busy; dispatch deferred")
			m.waitForWork(ctx, released)
			continue
		}
		if err != nil {
			m.laneError(ctx, "gate acquire failed", err)
			continue
		}

		claimed, err := m.store.ClaimDispatch(ctx, item.BatchID, item.ItemID, ticket)
		if err != nil || !claimed {
			m.releaseLease(lease)
			if err != nil {
				m.laneError(ctx, "claim dispatch failed", err)
			}
			continue
		}
		m.dispatchItem(ctx, item, ticket, lease)
	}
}

func (m *Manager) dispatchItem(ctx context.Context, item *store.ItemRecord, ticket string, lease store.Lease) {
	logger := logging.ForItem(m.logger, item.BatchID, item.ItemID).
		With(logging.String(logging.FieldTicketID, ticket))
	req := dispatch.Request{
		BatchID:     item.BatchID,
		ItemID:      item.ItemID,
		TicketID:    ticket,
		Bytes:       item.Bytes,
		ReportEvent: m.correlator.EventName(correlate.KindWorkDone, item.BatchID),
	}
	receipt, err := dispatch.Retry(ctx, m.dispatcher, req, m.policy)
	if err == nil {
		logger.Info("work dispatched", logging.String("reference", receipt.Reference))
		return
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if ctx.Err() != nil {
		if _, rqErr := m.store.RequeueDispatch(cleanupCtx, ticket); rqErr != nil {
			logger.Debug("requeue after shutdown failed", logging.Error(rqErr))
		}
		m.releaseLease(lease)
		return
	}

	if _, finErr := m.store.FinishDispatch(cleanupCtx, ticket, store.DispatchError, err.Error()); finErr != nil {
		m.setLastError(finErr)
	}
	m.releaseLease(lease)
	logging.WarnWithContext(logger, "dispatch failed; item recorded with dispatch error", "dispatch_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check dispatch.url or the worker's availability"),
		logging.String(logging.FieldImpact, "item stays completed; batch is not blocked"),
	)
	m.notifyDispatchError(cleanupCtx, item, err)
}

func (m *Manager) releaseLease(lease store.Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := m.gate.Release(ctx, lease); err != nil {
		m.logger.Debug("lease release failed", logging.String(logging.FieldLeaseID, lease.ID), logging.Error(err))
	}
}

// waitForWork blocks until the lane is kicked, released is closed, the retry
// interval passes, or ctx ends.
func (m *Manager) waitForWork(ctx context.Context, released <-chan struct{}) {
	timer := time.NewTimer(m.retryInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-m.kick:
	case <-released:
	case <-timer.C:
	}
}

func (m *Manager) laneError(ctx context.Context, msg string, err error) {
	if ctx.Err() != nil {
		return
	}
	m.setLastError(err)
	logging.ErrorWithContext(m.logger, msg, "dispatch_lane_error",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check state database access"),
	)
	timer := time.NewTimer(m.retryInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// runReaper expires leases whose holder never reported back.
func (m *Manager) runReaper(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.gate.ReapExpired(ctx); err != nil && ctx.Err() == nil {
				m.setLastError(err)
				logging.WarnWithContext(m.logger, "lease reap failed", "lease_reap_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check state database access"),
					logging.String(logging.FieldImpact, "expired leases stay until the next reap"),
				)
			}
		}
	}
}
