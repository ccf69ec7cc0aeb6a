package workflow

import (
	"context"

	"fanin/internal/api"
)

// Status returns a snapshot of coordinator state.
func (m *Manager) Status(ctx context.Context) api.CoordinatorStatus {
	m.mu.RLock()
	status := api.CoordinatorStatus{
		Running:       m.running,
		ActiveBatches: len(m.instances),
		BatchCounts:   make(map[string]int),
	}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	m.mu.RUnlock()

	records, err := m.store.ListBatches(ctx)
	if err != nil {
		if status.LastError == "" {
			status.LastError = err.Error()
		}
		return status
	}
	for _, rec := range records {
		status.BatchCounts[string(rec.Status)]++
	}
	return status
}

// GateStatus describes the singleton lease as seen by this coordinator.
func (m *Manager) GateStatus(ctx context.Context) api.GateStatus {
	if m.gate == nil {
		return api.GateStatus{}
	}
	lease, err := m.gate.Current(ctx)
	if err != nil {
		return api.GateStatus{Name: m.gate.Name()}
	}
	return api.FromLease(m.gate.Name(), lease)
}
