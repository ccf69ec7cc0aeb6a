package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateBatch inserts the batch row and one pending item row per id in a
// single transaction. Duplicate and blank ids are collapsed first.
func (s *Store) CreateBatch(ctx context.Context, rec BatchRecord, items []string) (*BatchRecord, error) {
	rec.ID = strings.TrimSpace(rec.ID)
	items = NormalizeItems(items)
	if rec.ID == "" || len(items) == 0 {
		return nil, ErrInvalidBatch
	}
	now := time.Now().UTC()
	timestamp := formatTime(now)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM batches WHERE id = ?`, rec.ID).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return ErrBatchExists
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO batches (id, status, expected_count, timeout_ms, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ID,
			StatusRunning,
			len(items),
			rec.Timeout.Milliseconds(),
			timestamp,
			timestamp,
		); err != nil {
			return err
		}
		return insertPending(ctx, tx, rec.ID, items, timestamp)
	})
	if errors.Is(err, ErrBatchExists) {
		return nil, fmt.Errorf("create batch %s: %w", rec.ID, ErrBatchExists)
	}
	if err != nil {
		return nil, unavailable("create batch", err)
	}
	return s.GetBatch(ctx, rec.ID)
}

// UpsertPending inserts pending rows for ids not yet present. Existing rows
// are left untouched, so repeated calls never duplicate or reset items.
func (s *Store) UpsertPending(ctx context.Context, batchID string, items []string) error {
	items = NormalizeItems(items)
	if len(items) == 0 {
		return nil
	}
	timestamp := formatTime(time.Now())
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM batches WHERE id = ?`, batchID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		return insertPending(ctx, tx, batchID, items, timestamp)
	})
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("upsert pending %s: %w", batchID, ErrNotFound)
	}
	return unavailable("upsert pending", err)
}

func insertPending(ctx context.Context, tx *sql.Tx, batchID string, items []string, timestamp string) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO items (batch_id, item_id, completed, version, dispatch_state, updated_at)
         VALUES (?, ?, 0, 0, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, item := range items {
		if _, err := stmt.ExecContext(ctx, batchID, item, DispatchNone, timestamp); err != nil {
			return fmt.Errorf("insert item %s: %w", item, err)
		}
	}
	return nil
}

// GetBatch fetches a batch with its derived totals.
func (s *Store) GetBatch(ctx context.Context, batchID string) (*BatchRecord, error) {
	ctx = ensureContext(ctx)
	var rec *BatchRecord
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches b WHERE b.id = ?`, batchID)
		var scanErr error
		rec, scanErr = scanBatch(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get batch", err)
	}
	return rec, nil
}

// ListBatches returns batches in creation order, optionally filtered by status.
func (s *Store) ListBatches(ctx context.Context, statuses ...Status) ([]BatchRecord, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + batchColumns + ` FROM batches b`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE b.status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY b.created_at, b.id`

	var out []BatchRecord
	err := retryOnBusy(ctx, func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanBatch(rows)
			if err != nil {
				return err
			}
			out = append(out, *rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, unavailable("list batches", err)
	}
	return out, nil
}

// TransitionBatch moves a batch from one status to another only if it is
// still in from. It reports whether this call made the change.
func (s *Store) TransitionBatch(ctx context.Context, batchID string, from, to Status) (bool, error) {
	now := formatTime(time.Now())
	var finished any
	if to.Terminal() {
		finished = now
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE batches SET status = ?, updated_at = ?, finished_at = COALESCE(?, finished_at)
         WHERE id = ? AND status = ?`,
		to,
		now,
		finished,
		batchID,
		from,
	)
	if err != nil {
		return false, unavailable("transition batch", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("transition batch", err)
	}
	if affected > 0 {
		return true, nil
	}
	if _, err := s.GetBatch(ctx, batchID); err != nil {
		return false, err
	}
	return false, nil
}
