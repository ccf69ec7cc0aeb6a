package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process implementation of the batch and item
// operations of Store. Item rows carry version counters so MarkCompleted uses
// the same compare-and-set path as the SQLite store.
type MemoryStore struct {
	mu         sync.Mutex
	batches    map[string]*BatchRecord
	items      map[string]map[string]*ItemRecord
	casRetries int

	// beforeWrite runs between the version read and the conditional write.
	beforeWrite func(batchID, itemID string)
}

// NewMemoryStore returns an empty MemoryStore. casRetries below one uses the default.
func NewMemoryStore(casRetries int) *MemoryStore {
	if casRetries < 1 {
		casRetries = defaultCASRetries
	}
	return &MemoryStore{
		batches:    make(map[string]*BatchRecord),
		items:      make(map[string]map[string]*ItemRecord),
		casRetries: casRetries,
	}
}

// CreateBatch records the batch and its pending items.
func (m *MemoryStore) CreateBatch(_ context.Context, rec BatchRecord, items []string) (*BatchRecord, error) {
	rec.ID = strings.TrimSpace(rec.ID)
	items = NormalizeItems(items)
	if rec.ID == "" || len(items) == 0 {
		return nil, ErrInvalidBatch
	}
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[rec.ID]; ok {
		return nil, fmt.Errorf("create batch %s: %w", rec.ID, ErrBatchExists)
	}
	stored := &BatchRecord{
		ID:            rec.ID,
		Status:        StatusRunning,
		ExpectedCount: len(items),
		Timeout:       rec.Timeout.Truncate(time.Millisecond),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.batches[rec.ID] = stored
	m.items[rec.ID] = make(map[string]*ItemRecord, len(items))
	m.insertPendingLocked(rec.ID, items, now)
	return m.batchSnapshotLocked(stored), nil
}

// UpsertPending inserts rows for ids not yet present.
func (m *MemoryStore) UpsertPending(_ context.Context, batchID string, items []string) error {
	items = NormalizeItems(items)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[batchID]; !ok {
		return fmt.Errorf("upsert pending %s: %w", batchID, ErrNotFound)
	}
	m.insertPendingLocked(batchID, items, time.Now().UTC())
	return nil
}

func (m *MemoryStore) insertPendingLocked(batchID string, items []string, now time.Time) {
	rows := m.items[batchID]
	for _, id := range items {
		if _, ok := rows[id]; ok {
			continue
		}
		rows[id] = &ItemRecord{
			BatchID:       batchID,
			ItemID:        id,
			DispatchState: DispatchNone,
			UpdatedAt:     now,
		}
	}
}

// GetBatch returns a copy of the batch with derived totals.
func (m *MemoryStore) GetBatch(_ context.Context, batchID string) (*BatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	return m.batchSnapshotLocked(rec), nil
}

// ListBatches returns batches in creation order, optionally filtered by status.
func (m *MemoryStore) ListBatches(_ context.Context, statuses ...Status) ([]BatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BatchRecord, 0, len(m.batches))
	for _, rec := range m.batches {
		if len(statuses) > 0 && !containsStatus(statuses, rec.Status) {
			continue
		}
		out = append(out, *m.batchSnapshotLocked(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func containsStatus(statuses []Status, status Status) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (m *MemoryStore) batchSnapshotLocked(rec *BatchRecord) *BatchRecord {
	snapshot := *rec
	snapshot.CompletedCount = 0
	snapshot.TotalBytes = 0
	for _, item := range m.items[rec.ID] {
		if item.Completed {
			snapshot.CompletedCount++
		}
		snapshot.TotalBytes += item.Bytes
	}
	if rec.FinishedAt != nil {
		finished := *rec.FinishedAt
		snapshot.FinishedAt = &finished
	}
	return &snapshot
}

// TransitionBatch moves a batch between statuses if it is still in from.
func (m *MemoryStore) TransitionBatch(_ context.Context, batchID string, from, to Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.batches[batchID]
	if !ok {
		return false, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	if rec.Status != from {
		return false, nil
	}
	now := time.Now().UTC()
	rec.Status = to
	rec.UpdatedAt = now
	if to.Terminal() {
		rec.FinishedAt = &now
	}
	return true, nil
}

// GetItem returns a copy of one item row.
func (m *MemoryStore) GetItem(_ context.Context, batchID, itemID string) (*ItemRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, err := m.itemLocked(batchID, itemID)
	if err != nil {
		return nil, err
	}
	return copyItem(item), nil
}

func (m *MemoryStore) itemLocked(batchID, itemID string) (*ItemRecord, error) {
	rows, ok := m.items[batchID]
	if !ok {
		return nil, fmt.Errorf("item %s/%s: %w", batchID, itemID, ErrNotFound)
	}
	item, ok := rows[itemID]
	if !ok {
		return nil, fmt.Errorf("item %s/%s: %w", batchID, itemID, ErrNotFound)
	}
	return item, nil
}

func copyItem(item *ItemRecord) *ItemRecord {
	cp := *item
	if item.CompletedAt != nil {
		t := *item.CompletedAt
		cp.CompletedAt = &t
	}
	if item.DispatchedAt != nil {
		t := *item.DispatchedAt
		cp.DispatchedAt = &t
	}
	return &cp
}

// ListItems returns every item of a batch ordered by item id.
func (m *MemoryStore) ListItems(_ context.Context, batchID string) ([]ItemRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.items[batchID]
	out := make([]ItemRecord, 0, len(rows))
	for _, item := range rows {
		out = append(out, *copyItem(item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

// MarkCompleted flips an item to completed with a version compare-and-set.
func (m *MemoryStore) MarkCompleted(ctx context.Context, batchID, itemID string, c Completion) (bool, error) {
	for attempt := 0; attempt < m.casRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		item, err := m.GetItem(ctx, batchID, itemID)
		if err != nil {
			return false, err
		}
		if item.Completed {
			return false, nil
		}
		if m.beforeWrite != nil {
			m.beforeWrite(batchID, itemID)
		}
		err = m.completeIfVersion(batchID, itemID, item.Version, c)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, ErrConflict) {
			return false, err
		}
	}
	return false, fmt.Errorf("mark completed %s/%s after %d attempts: %w: %w",
		batchID, itemID, m.casRetries, ErrStoreUnavailable, ErrConflict)
}

func (m *MemoryStore) completeIfVersion(batchID, itemID string, version int64, c Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, err := m.itemLocked(batchID, itemID)
	if err != nil {
		return err
	}
	if item.Version != version || item.Completed {
		return ErrConflict
	}
	now := time.Now().UTC()
	item.Completed = true
	item.Version++
	item.CompletedAt = &now
	item.Bytes = c.Bytes
	if c.QueueDispatch {
		item.DispatchState = DispatchQueued
	}
	item.UpdatedAt = now
	return nil
}

// bumpVersion simulates a racing writer that touched the row without completing it.
func (m *MemoryStore) bumpVersion(batchID, itemID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, err := m.itemLocked(batchID, itemID); err == nil {
		item.Version++
	}
}

// CountCompleted returns the number of completed items in a batch.
func (m *MemoryStore) CountCompleted(_ context.Context, batchID string) (int, error) {
	completed, _, err := m.completionCounts(batchID)
	return completed, err
}

// IsFullyCompleted reports whether every item of the batch is completed.
func (m *MemoryStore) IsFullyCompleted(_ context.Context, batchID string) (bool, error) {
	completed, total, err := m.completionCounts(batchID)
	if err != nil {
		return false, err
	}
	return total > 0 && completed == total, nil
}

func (m *MemoryStore) completionCounts(batchID string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.batches[batchID]
	if !ok {
		return 0, 0, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	completed := 0
	for _, item := range m.items[batchID] {
		if item.Completed {
			completed++
		}
	}
	total := len(m.items[batchID])
	if total < rec.ExpectedCount {
		total = rec.ExpectedCount
	}
	return completed, total, nil
}

// NextQueuedDispatch returns the oldest queued item, or nil.
func (m *MemoryStore) NextQueuedDispatch(_ context.Context) (*ItemRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *ItemRecord
	for _, rows := range m.items {
		for _, item := range rows {
			if item.DispatchState != DispatchQueued {
				continue
			}
			if next == nil || queuedBefore(item, next) {
				next = item
			}
		}
	}
	if next == nil {
		return nil, nil
	}
	return copyItem(next), nil
}

func queuedBefore(a, b *ItemRecord) bool {
	at, bt := time.Time{}, time.Time{}
	if a.CompletedAt != nil {
		at = *a.CompletedAt
	}
	if b.CompletedAt != nil {
		bt = *b.CompletedAt
	}
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	if a.BatchID != b.BatchID {
		return a.BatchID < b.BatchID
	}
	return a.ItemID < b.ItemID
}

// ClaimDispatch moves a queued item to dispatched under ticketID.
func (m *MemoryStore) ClaimDispatch(_ context.Context, batchID, itemID, ticketID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, err := m.itemLocked(batchID, itemID)
	if err != nil {
		return false, nil
	}
	if item.DispatchState != DispatchQueued {
		return false, nil
	}
	now := time.Now().UTC()
	item.DispatchState = DispatchDispatched
	item.TicketID = ticketID
	item.DispatchedAt = &now
	item.DispatchAttempts++
	item.DispatchError = ""
	item.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) ticketLocked(ticketID string) *ItemRecord {
	for _, rows := range m.items {
		for _, item := range rows {
			if item.TicketID == ticketID {
				return item
			}
		}
	}
	return nil
}

// FinishDispatch closes a dispatched ticket with a terminal dispatch state.
func (m *MemoryStore) FinishDispatch(_ context.Context, ticketID string, state DispatchState, message string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.ticketLocked(ticketID)
	if item == nil || item.DispatchState != DispatchDispatched {
		return false, nil
	}
	item.DispatchState = state
	item.DispatchError = message
	item.UpdatedAt = time.Now().UTC()
	return true, nil
}

// RequeueDispatch returns a dispatched ticket to the queue.
func (m *MemoryStore) RequeueDispatch(_ context.Context, ticketID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.ticketLocked(ticketID)
	if item == nil || item.DispatchState != DispatchDispatched {
		return false, nil
	}
	item.DispatchState = DispatchQueued
	item.TicketID = ""
	item.DispatchedAt = nil
	item.UpdatedAt = time.Now().UTC()
	return true, nil
}

// DispatchByTicket looks up the item carrying ticketID.
func (m *MemoryStore) DispatchByTicket(_ context.Context, ticketID string) (*ItemRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.ticketLocked(ticketID)
	if item == nil {
		return nil, fmt.Errorf("ticket %s: %w", ticketID, ErrNotFound)
	}
	return copyItem(item), nil
}

// Close is a no-op kept for parity with Store.
func (m *MemoryStore) Close() error { return nil }
