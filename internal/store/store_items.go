package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetItem fetches a single item row.
func (s *Store) GetItem(ctx context.Context, batchID, itemID string) (*ItemRecord, error) {
	ctx = ensureContext(ctx)
	var item *ItemRecord
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT `+itemColumns+` FROM items WHERE batch_id = ? AND item_id = ?`,
			batchID, itemID,
		)
		var scanErr error
		item, scanErr = scanItem(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s/%s: %w", batchID, itemID, ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get item", err)
	}
	return item, nil
}

// ListItems returns every item of a batch ordered by item id.
func (s *Store) ListItems(ctx context.Context, batchID string) ([]ItemRecord, error) {
	return s.queryItems(ctx, "list items",
		`SELECT `+itemColumns+` FROM items WHERE batch_id = ? ORDER BY item_id`, batchID)
}

func (s *Store) queryItems(ctx context.Context, op, query string, args ...any) ([]ItemRecord, error) {
	ctx = ensureContext(ctx)
	var out []ItemRecord
	err := retryOnBusy(ctx, func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			item, err := scanItem(rows)
			if err != nil {
				return err
			}
			out = append(out, *item)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, unavailable(op, err)
	}
	return out, nil
}

// MarkCompleted flips an item from pending to completed with a
// compare-and-set on its version. It returns true only for the call that made
// the transition; an item that is already completed returns false.
func (s *Store) MarkCompleted(ctx context.Context, batchID, itemID string, c Completion) (bool, error) {
	for attempt := 0; attempt < s.casRetries; attempt++ {
		item, err := s.GetItem(ctx, batchID, itemID)
		if err != nil {
			return false, err
		}
		if item.Completed {
			return false, nil
		}
		err = s.completeIfVersion(ctx, item.BatchID, item.ItemID, item.Version, c)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, ErrConflict) {
			return false, err
		}
	}
	return false, fmt.Errorf("mark completed %s/%s after %d attempts: %w: %w",
		batchID, itemID, s.casRetries, ErrStoreUnavailable, ErrConflict)
}

func (s *Store) completeIfVersion(ctx context.Context, batchID, itemID string, version int64, c Completion) error {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`UPDATE items
         SET completed = 1, version = version + 1, completed_at = ?, bytes = ?,
             dispatch_state = CASE WHEN ? = 1 THEN ? ELSE dispatch_state END,
             updated_at = ?
         WHERE batch_id = ? AND item_id = ? AND version = ? AND completed = 0`,
		now,
		c.Bytes,
		boolToInt(c.QueueDispatch),
		DispatchQueued,
		now,
		batchID,
		itemID,
		version,
	)
	if err != nil {
		return unavailable("mark completed", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return unavailable("mark completed", err)
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

// CountCompleted returns the number of completed items in a batch.
func (s *Store) CountCompleted(ctx context.Context, batchID string) (int, error) {
	completed, _, err := s.completionCounts(ctx, batchID)
	return completed, err
}

// IsFullyCompleted reports whether every expected item of the batch is completed.
func (s *Store) IsFullyCompleted(ctx context.Context, batchID string) (bool, error) {
	completed, expected, err := s.completionCounts(ctx, batchID)
	if err != nil {
		return false, err
	}
	return expected > 0 && completed >= expected, nil
}

func (s *Store) completionCounts(ctx context.Context, batchID string) (int, int, error) {
	ctx = ensureContext(ctx)
	var completed, pending, expected int
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT b.expected_count,
                    (SELECT COUNT(1) FROM items i WHERE i.batch_id = b.id AND i.completed = 1),
                    (SELECT COUNT(1) FROM items i WHERE i.batch_id = b.id AND i.completed = 0)
             FROM batches b WHERE b.id = ?`,
			batchID,
		).Scan(&expected, &completed, &pending)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	if err != nil {
		return 0, 0, unavailable("count completed", err)
	}
	if pending > 0 && completed >= expected {
		// Rows added by UpsertPending beyond the recorded count still gate completion.
		expected = completed + pending
	}
	return completed, expected, nil
}
