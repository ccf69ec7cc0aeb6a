// Package gate provides the named singleton lease that bounds how many
// long-running worker executions are outstanding at once.
//
// A Gate hands out at most one Lease at a time for its name. Leases expire
// after a fixed TTL so a crashed holder cannot lock the worker out forever;
// expiry is applied on every acquire attempt and by the periodic reaper.
// The lease itself lives in a Backend: the SQLite store for daemons that
// share a database, or MemoryBackend inside a single process.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fanin/internal/logging"
	"fanin/internal/store"
)

// ErrBusy is returned by TryAcquire while another holder owns the lease.
// It is a deferral signal, not a failure.
var ErrBusy = errors.New("gate busy")

// Backend persists lease rows with an atomic test-and-set.
type Backend interface {
	AcquireLease(ctx context.Context, lease store.Lease, now time.Time) (bool, error)
	ReleaseLease(ctx context.Context, name, leaseID string) (bool, error)
	CurrentLease(ctx context.Context, name string) (*store.Lease, error)
	ExpireLeases(ctx context.Context, now time.Time) ([]store.Lease, error)
}

// ExpiryHandler is invoked for each lease removed because it expired.
type ExpiryHandler func(ctx context.Context, lease store.Lease)

// Option customizes a Gate.
type Option func(*Gate)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// WithExpiryHandler registers a callback for expired leases.
func WithExpiryHandler(fn ExpiryHandler) Option {
	return func(g *Gate) {
		g.onExpire = fn
	}
}

// Gate is a named mutual-exclusion lease with expiry.
type Gate struct {
	name     string
	ttl      time.Duration
	backend  Backend
	logger   *slog.Logger
	now      func() time.Time
	onExpire ExpiryHandler

	mu      sync.Mutex
	release chan struct{}
}

// New constructs a gate for name whose leases last ttl.
func New(name string, ttl time.Duration, backend Backend, logger *slog.Logger, opts ...Option) (*Gate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("gate name is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("gate %s: lease ttl must be positive", name)
	}
	if backend == nil {
		return nil, fmt.Errorf("gate %s: backend is required", name)
	}
	g := &Gate{
		name:    name,
		ttl:     ttl,
		backend: backend,
		logger:  logging.NewComponentLogger(logger, "gate"),
		now:     time.Now,
		release: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Name returns the gate name.
func (g *Gate) Name() string { return g.name }

// TTL returns the lease duration.
func (g *Gate) TTL() time.Duration { return g.ttl }

// TryAcquire takes the lease for holder or returns ErrBusy.
func (g *Gate) TryAcquire(ctx context.Context, holder string) (store.Lease, error) {
	if _, err := g.ReapExpired(ctx); err != nil {
		return store.Lease{}, err
	}
	now := g.now().UTC()
	lease := store.Lease{
		Name:       g.name,
		Holder:     holder,
		ID:         uuid.NewString(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(g.ttl),
	}
	ok, err := g.backend.AcquireLease(ctx, lease, now)
	if err != nil {
		return store.Lease{}, fmt.Errorf("acquire %s: %w", g.name, err)
	}
	if !ok {
		return store.Lease{}, ErrBusy
	}
	g.logger.Debug("lease acquired",
		logging.String(logging.FieldLeaseID, lease.ID),
		logging.String("holder", holder),
		logging.String("expires_at", lease.ExpiresAt.Format(time.RFC3339)),
	)
	return lease, nil
}

// Release gives up lease. Releasing a lease that already expired or was
// replaced is a no-op.
func (g *Gate) Release(ctx context.Context, lease store.Lease) error {
	released, err := g.backend.ReleaseLease(ctx, g.name, lease.ID)
	if err != nil {
		return fmt.Errorf("release %s: %w", g.name, err)
	}
	if released {
		g.logger.Debug("lease released", logging.String(logging.FieldLeaseID, lease.ID))
		g.notify()
	}
	return nil
}

// ReapExpired removes expired leases and runs the expiry handler for each.
func (g *Gate) ReapExpired(ctx context.Context) ([]store.Lease, error) {
	expired, err := g.backend.ExpireLeases(ctx, g.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("reap %s: %w", g.name, err)
	}
	if len(expired) == 0 {
		return nil, nil
	}
	for _, lease := range expired {
		logging.WarnWithContext(g.logger, "lease expired before release", "lease_expired",
			logging.String(logging.FieldLeaseID, lease.ID),
			logging.String("holder", lease.Holder),
			logging.String(logging.FieldErrorHint, "worker exceeded gate.lease_seconds or never reported completion"),
			logging.String(logging.FieldImpact, "lease released automatically; next queued item may start"),
		)
		if g.onExpire != nil {
			g.onExpire(ctx, lease)
		}
	}
	g.notify()
	return expired, nil
}

// Current returns the active lease, or nil.
func (g *Gate) Current(ctx context.Context) (*store.Lease, error) {
	lease, err := g.backend.CurrentLease(ctx, g.name)
	if err != nil {
		return nil, fmt.Errorf("current %s: %w", g.name, err)
	}
	if lease != nil && lease.Expired(g.now()) {
		return nil, nil
	}
	return lease, nil
}

// Wait returns a channel closed on the next release or expiry seen by this process.
func (g *Gate) Wait() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.release
}

func (g *Gate) notify() {
	g.mu.Lock()
	defer g.mu.Unlock()
	close(g.release)
	g.release = make(chan struct{})
}
