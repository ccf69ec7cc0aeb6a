package workflow

import (
	"context"
	"errors"

	"fanin/internal/logging"
	"fanin/internal/store"
)

// Start resumes every running batch from the store and begins background
// dispatch and lease reaping.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("coordinator already running")
	}
	if m.gate == nil {
		m.mu.Unlock()
		return errors.New("coordinator gate not configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.runCtx = runCtx
	m.cancel = cancel
	m.running = true
	m.wg.Add(2)
	m.mu.Unlock()

	go m.runDispatchLane(runCtx)
	go m.runReaper(runCtx)

	if err := m.resumeRunning(runCtx); err != nil {
		m.Stop()
		return err
	}
	return nil
}

// Stop terminates background processing and waits for every instance to
// exit. Running batches stay running in the store and resume on next Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	m.mu.Lock()
	m.instances = make(map[string]*batch)
	m.runCtx = nil
	m.mu.Unlock()
}

func (m *Manager) resumeRunning(ctx context.Context) error {
	records, err := m.store.ListBatches(ctx, store.StatusRunning)
	if err != nil {
		return err
	}
	for i := range records {
		if _, err := m.adopt(&records[i]); err != nil {
			return err
		}
	}
	if len(records) > 0 {
		m.logger.Info("resumed running batches", logging.Int("count", len(records)))
	}
	m.kickDispatch()
	return nil
}

// adopt returns the local instance for rec, starting one from stored state
// when this process has none yet.
func (m *Manager) adopt(rec *store.BatchRecord) (*batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil, ErrNotRunning
	}
	if inst, ok := m.instances[rec.ID]; ok {
		return inst, nil
	}
	inst := m.newBatch(rec, true)
	m.instances[rec.ID] = inst
	m.wg.Add(1)
	go inst.run(m.runCtx)
	return inst, nil
}

// register starts the instance for a batch created by this process.
func (m *Manager) register(rec *store.BatchRecord) (*batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil, ErrNotRunning
	}
	inst := m.newBatch(rec, false)
	m.instances[rec.ID] = inst
	m.wg.Add(1)
	go inst.run(m.runCtx)
	return inst, nil
}

func (m *Manager) forget(inst *batch) {
	m.mu.Lock()
	if m.instances[inst.id] == inst {
		delete(m.instances, inst.id)
	}
	m.mu.Unlock()
}

func (m *Manager) instance(batchID string) *batch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.instances[batchID]
}

// lookup finds or adopts the instance for batchID. When the batch does not
// exist or is already terminal it returns the matching outcome instead.
func (m *Manager) lookup(ctx context.Context, batchID string) (*batch, Outcome, error) {
	if inst := m.instance(batchID); inst != nil {
		return inst, "", nil
	}
	rec, err := m.store.GetBatch(ctx, batchID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, OutcomeUnmatched, nil
	}
	if err != nil {
		return nil, "", err
	}
	if rec.Status.Terminal() {
		return nil, OutcomeClosed, nil
	}
	inst, err := m.adopt(rec)
	if err != nil {
		return nil, "", err
	}
	return inst, "", nil
}
