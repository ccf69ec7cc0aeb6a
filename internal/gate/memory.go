package gate

import (
	"context"
	"sync"
	"time"

	"fanin/internal/store"
)

// MemoryBackend keeps leases in process memory.
type MemoryBackend struct {
	mu     sync.Mutex
	leases map[string]store.Lease
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{leases: make(map[string]store.Lease)}
}

// AcquireLease stores lease unless an unexpired lease holds the same name.
func (b *MemoryBackend) AcquireLease(_ context.Context, lease store.Lease, now time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if held, ok := b.leases[lease.Name]; ok && !held.Expired(now) {
		return false, nil
	}
	b.leases[lease.Name] = lease
	return true, nil
}

// ReleaseLease drops the named lease when leaseID still owns it.
func (b *MemoryBackend) ReleaseLease(_ context.Context, name, leaseID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	held, ok := b.leases[name]
	if !ok || held.ID != leaseID {
		return false, nil
	}
	delete(b.leases, name)
	return true, nil
}

// CurrentLease returns the held lease for name, or nil.
func (b *MemoryBackend) CurrentLease(_ context.Context, name string) (*store.Lease, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	held, ok := b.leases[name]
	if !ok {
		return nil, nil
	}
	return &held, nil
}

// ExpireLeases removes and returns every lease past its expiry at now.
func (b *MemoryBackend) ExpireLeases(_ context.Context, now time.Time) ([]store.Lease, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var expired []store.Lease
	for name, held := range b.leases {
		if held.Expired(now) {
			expired = append(expired, held)
			delete(b.leases, name)
		}
	}
	return expired, nil
}
