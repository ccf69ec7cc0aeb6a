package store

import (
	"context"
	"fmt"
	"time"
)

// NextQueuedDispatch returns the item that has waited longest in the
// dispatch queue, or nil when the queue is empty.
func (s *Store) NextQueuedDispatch(ctx context.Context) (*ItemRecord, error) {
	items, err := s.queryItems(ctx, "next queued dispatch",
		`SELECT `+itemColumns+` FROM items
         WHERE dispatch_state = ?
         ORDER BY completed_at, batch_id, item_id LIMIT 1`,
		DispatchQueued,
	)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

// ClaimDispatch moves a queued item to dispatched under ticketID. It reports
// false when the item is no longer queued.
func (s *Store) ClaimDispatch(ctx context.Context, batchID, itemID, ticketID string) (bool, error) {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`UPDATE items
         SET dispatch_state = ?, ticket_id = ?, dispatched_at = ?,
             dispatch_attempts = dispatch_attempts + 1, dispatch_error = NULL, updated_at = ?
         WHERE batch_id = ? AND item_id = ? AND dispatch_state = ?`,
		DispatchDispatched,
		ticketID,
		now,
		now,
		batchID,
		itemID,
		DispatchQueued,
	)
	if err != nil {
		return false, unavailable("claim dispatch", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("claim dispatch", err)
	}
	return affected > 0, nil
}

// FinishDispatch closes a dispatched ticket with a terminal dispatch state.
// Tickets that are no longer dispatched are left alone and report false.
func (s *Store) FinishDispatch(ctx context.Context, ticketID string, state DispatchState, message string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE items SET dispatch_state = ?, dispatch_error = ?, updated_at = ?
         WHERE ticket_id = ? AND dispatch_state = ?`,
		state,
		nullableString(message),
		formatTime(time.Now()),
		ticketID,
		DispatchDispatched,
	)
	if err != nil {
		return false, unavailable("finish dispatch", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("finish dispatch", err)
	}
	return affected > 0, nil
}

// RequeueDispatch returns a dispatched ticket to the queue and clears the ticket.
func (s *Store) RequeueDispatch(ctx context.Context, ticketID string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE items SET dispatch_state = ?, ticket_id = NULL, dispatched_at = NULL, updated_at = ?
         WHERE ticket_id = ? AND dispatch_state = ?`,
		DispatchQueued,
		formatTime(time.Now()),
		ticketID,
		DispatchDispatched,
	)
	if err != nil {
		return false, unavailable("requeue dispatch", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("requeue dispatch", err)
	}
	return affected > 0, nil
}

// DispatchByTicket looks up the item carrying ticketID.
func (s *Store) DispatchByTicket(ctx context.Context, ticketID string) (*ItemRecord, error) {
	items, err := s.queryItems(ctx, "dispatch by ticket",
		`SELECT `+itemColumns+` FROM items WHERE ticket_id = ?`, ticketID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("ticket %s: %w", ticketID, ErrNotFound)
	}
	return &items[0], nil
}
