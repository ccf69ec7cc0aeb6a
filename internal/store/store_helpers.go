package store

import (
	"database/sql"
	"errors"
	"time"
)

// timeLayout has a fixed-width fraction so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const batchColumns = `b.id, b.status, b.expected_count, b.timeout_ms, b.created_at, b.updated_at, b.finished_at,
    (SELECT COUNT(1) FROM items i WHERE i.batch_id = b.id AND i.completed = 1),
    (SELECT COALESCE(SUM(i.bytes), 0) FROM items i WHERE i.batch_id = b.id)`

const itemColumns = "batch_id, item_id, completed, version, completed_at, bytes, dispatch_state, dispatch_attempts, dispatch_error, ticket_id, dispatched_at, updated_at"

type scanner interface{ Scan(dest ...any) error }

func scanBatch(row scanner) (*BatchRecord, error) {
	var (
		id          string
		statusStr   string
		expected    int
		timeoutMS   int64
		createdRaw  string
		updatedRaw  string
		finishedRaw sql.NullString
		completed   int
		totalBytes  int64
	)
	if err := row.Scan(&id, &statusStr, &expected, &timeoutMS, &createdRaw, &updatedRaw, &finishedRaw, &completed, &totalBytes); err != nil {
		return nil, err
	}
	rec := &BatchRecord{
		ID:             id,
		Status:         Status(statusStr),
		ExpectedCount:  expected,
		Timeout:        time.Duration(timeoutMS) * time.Millisecond,
		CompletedCount: completed,
		TotalBytes:     totalBytes,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		rec.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		rec.UpdatedAt = updated
	}
	rec.FinishedAt = parseNullableTime(finishedRaw)
	return rec, nil
}

func scanItem(row scanner) (*ItemRecord, error) {
	var (
		batchID       string
		itemID        string
		completed     int
		version       int64
		completedRaw  sql.NullString
		bytes         int64
		stateStr      string
		attempts      int
		dispatchErr   sql.NullString
		ticketID      sql.NullString
		dispatchedRaw sql.NullString
		updatedRaw    string
	)
	if err := row.Scan(
		&batchID,
		&itemID,
		&completed,
		&version,
		&completedRaw,
		&bytes,
		&stateStr,
		&attempts,
		&dispatchErr,
		&ticketID,
		&dispatchedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	item := &ItemRecord{
		BatchID:          batchID,
		ItemID:           itemID,
		Completed:        completed != 0,
		Version:          version,
		CompletedAt:      parseNullableTime(completedRaw),
		Bytes:            bytes,
		DispatchState:    DispatchState(stateStr),
		DispatchAttempts: attempts,
		DispatchError:    dispatchErr.String,
		TicketID:         ticketID.String,
		DispatchedAt:     parseNullableTime(dispatchedRaw),
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
