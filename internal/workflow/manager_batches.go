package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fanin/internal/api"
	"fanin/internal/logging"
	"fanin/internal/store"
)

// Create starts a batch from an API request. A missing batch id is
// generated and a missing timeout falls back to batch.default_timeout_seconds.
func (m *Manager) Create(ctx context.Context, req api.CreateBatchRequest) (api.CreateBatchResponse, error) {
	timeout := m.cfg.DefaultBatchTimeout()
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	rec, err := m.CreateBatch(ctx, req.BatchID, req.Items, timeout)
	if err != nil {
		return api.CreateBatchResponse{}, err
	}
	return api.CreateBatchResponse{BatchID: rec.ID, ExpectedCount: rec.ExpectedCount}, nil
}

// CreateBatch persists a running batch over items and starts its instance.
// Duplicate ids collapse; an empty set returns store.ErrInvalidBatch.
func (m *Manager) CreateBatch(ctx context.Context, batchID string, items []string, timeout time.Duration) (*store.BatchRecord, error) {
	if !m.Running() {
		return nil, ErrNotRunning
	}
	items = store.NormalizeItems(items)
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no item ids", store.ErrInvalidBatch)
	}
	if limit := m.cfg.Batch.MaxItems; limit > 0 && len(items) > limit {
		return nil, fmt.Errorf("%w: %d items exceeds batch.max_items (%d)", store.ErrInvalidBatch, len(items), limit)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive", store.ErrInvalidBatch)
	}
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		batchID = uuid.NewString()
	}

	rec, err := m.store.CreateBatch(ctx, store.BatchRecord{ID: batchID, Timeout: timeout}, items)
	if err != nil {
		return nil, err
	}
	if _, err := m.register(rec); err != nil {
		return nil, err
	}
	m.logger.Info("batch created",
		logging.String(logging.FieldBatchID, rec.ID),
		logging.Int("expected", rec.ExpectedCount),
		logging.Duration("timeout", timeout),
	)
	return rec, nil
}

// Await blocks until the batch is terminal or timeout elapses. When the
// timeout elapses first the batch is closed as timed out and its partial
// result returned. A non-positive timeout waits for the batch's own window.
func (m *Manager) Await(ctx context.Context, batchID string, timeout time.Duration) (api.BatchResult, error) {
	rec, err := m.store.GetBatch(ctx, batchID)
	if err != nil {
		return api.BatchResult{}, err
	}
	if rec.Status.Terminal() {
		return m.Result(ctx, batchID, false)
	}
	inst, err := m.adopt(rec)
	if err != nil {
		return api.BatchResult{}, err
	}

	var elapsed <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		elapsed = timer.C
	}
	select {
	case <-inst.done:
	case <-elapsed:
		inst.requestExpiry()
		select {
		case <-inst.done:
		case <-ctx.Done():
			return api.BatchResult{}, ctx.Err()
		}
	case <-ctx.Done():
		return api.BatchResult{}, ctx.Err()
	}
	if !inst.status.Terminal() {
		return api.BatchResult{}, ErrNotRunning
	}
	return m.Result(ctx, batchID, false)
}

// Result reads the current state of a batch from the store.
func (m *Manager) Result(ctx context.Context, batchID string, withItems bool) (api.BatchResult, error) {
	rec, err := m.store.GetBatch(ctx, batchID)
	if err != nil {
		return api.BatchResult{}, err
	}
	items, err := m.store.ListItems(ctx, batchID)
	if err != nil {
		return api.BatchResult{}, err
	}
	return api.FromBatch(rec, items, withItems), nil
}

// List returns batch summaries, optionally filtered by status.
func (m *Manager) List(ctx context.Context, statuses ...store.Status) ([]api.BatchSummary, error) {
	records, err := m.store.ListBatches(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return api.FromBatchRecords(records), nil
}
