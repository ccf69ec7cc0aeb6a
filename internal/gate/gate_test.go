package gate_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fanin/internal/gate"
	"fanin/internal/logging"
	"fanin/internal/store"
	"fanin/internal/testsupport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func forEachBackend(t *testing.T, fn func(t *testing.T, backend gate.Backend)) {
	t.Helper()
	t.Run("sqlite", func(t *testing.T) {
		fn(t, testsupport.MustOpenStore(t, testsupport.NewConfig(t)))
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, gate.NewMemoryBackend())
	})
}

func TestNewValidatesArguments(t *testing.T) {
	backend := gate.NewMemoryBackend()
	if _, err := gate.New("", time.Minute, backend, nil); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := gate.New("worker", 0, backend, nil); err == nil {
		t.Fatal("expected error for zero ttl")
	}
	if _, err := gate.New("worker", time.Minute, nil, nil); err == nil {
		t.Fatal("expected error for nil backend")
	}
}

func TestConcurrentTryAcquireHasSingleHolder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend gate.Backend) {
		g, err := gate.New("worker", time.Minute, backend, logging.NewNop())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		ctx := context.Background()

		const callers = 16
		var (
			wg      sync.WaitGroup
			winners atomic.Int32
			busy    atomic.Int32
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := g.TryAcquire(ctx, "holder")
				switch {
				case err == nil:
					winners.Add(1)
				case errors.Is(err, gate.ErrBusy):
					busy.Add(1)
				default:
					t.Errorf("TryAcquire: %v", err)
				}
			}()
		}
		wg.Wait()
		if winners.Load() != 1 || busy.Load() != callers-1 {
			t.Fatalf("expected 1 winner and %d busy, got %d and %d", callers-1, winners.Load(), busy.Load())
		}
	})
}

func TestReleaseAllowsNextHolderAndWakesWaiters(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend gate.Backend) {
		g, err := gate.New("worker", time.Minute, backend, logging.NewNop())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		ctx := context.Background()

		lease, err := g.TryAcquire(ctx, "first")
		if err != nil {
			t.Fatalf("TryAcquire: %v", err)
		}
		if _, err := g.TryAcquire(ctx, "second"); !errors.Is(err, gate.ErrBusy) {
			t.Fatalf("expected ErrBusy, got %v", err)
		}

		wait := g.Wait()
		stale := lease
		stale.ID = "not-the-holder"
		if err := g.Release(ctx, stale); err != nil {
			t.Fatalf("Release stale: %v", err)
		}
		select {
		case <-wait:
			t.Fatal("stale release must not wake waiters")
		default:
		}

		if err := g.Release(ctx, lease); err != nil {
			t.Fatalf("Release: %v", err)
		}
		select {
		case <-wait:
		case <-time.After(time.Second):
			t.Fatal("expected waiters to be woken by release")
		}

		next, err := g.TryAcquire(ctx, "second")
		if err != nil {
			t.Fatalf("TryAcquire after release: %v", err)
		}
		current, err := g.Current(ctx)
		if err != nil || current == nil || current.ID != next.ID {
			t.Fatalf("Current = %#v, %v", current, err)
		}
	})
}

func TestExpiredLeaseIsReapedAndReported(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend gate.Backend) {
		clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
		var expired []store.Lease
		g, err := gate.New("worker", time.Minute, backend, logging.NewNop(),
			gate.WithClock(clock.Now),
			gate.WithExpiryHandler(func(_ context.Context, lease store.Lease) {
				expired = append(expired, lease)
			}),
		)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		ctx := context.Background()

		crashed, err := g.TryAcquire(ctx, "crashed-worker")
		if err != nil {
			t.Fatalf("TryAcquire: %v", err)
		}
		clock.Advance(30 * time.Second)
		if reaped, err := g.ReapExpired(ctx); err != nil || len(reaped) != 0 {
			t.Fatalf("early reap = %v, %v", reaped, err)
		}
		if _, err := g.TryAcquire(ctx, "other"); !errors.Is(err, gate.ErrBusy) {
			t.Fatalf("expected ErrBusy before expiry, got %v", err)
		}

		clock.Advance(31 * time.Second)
		if _, err := g.TryAcquire(ctx, "other"); err != nil {
			t.Fatalf("expected acquire after expiry, got %v", err)
		}
		if len(expired) != 1 || expired[0].ID != crashed.ID || expired[0].Holder != "crashed-worker" {
			t.Fatalf("expected crashed lease reported as expired, got %#v", expired)
		}
		if err := g.Release(ctx, crashed); err != nil {
			t.Fatalf("late release of expired lease: %v", err)
		}
		current, err := g.Current(ctx)
		if err != nil || current == nil || current.Holder != "other" {
			t.Fatalf("late release must not drop the new holder, got %#v, %v", current, err)
		}
	})
}

func TestGatesSharingDatabaseExcludeEachOther(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := testsupport.MustOpenStore(t, cfg)
	second := testsupport.MustOpenStore(t, cfg)

	g1, err := gate.New("worker", time.Minute, first, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g2, err := gate.New("worker", time.Minute, second, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	lease, err := g1.TryAcquire(ctx, "process-1")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if _, err := g2.TryAcquire(ctx, "process-2"); !errors.Is(err, gate.ErrBusy) {
		t.Fatalf("expected second process to see ErrBusy, got %v", err)
	}
	if err := g1.Release(ctx, lease); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := g2.TryAcquire(ctx, "process-2"); err != nil {
		t.Fatalf("expected second process to acquire after release, got %v", err)
	}
}
