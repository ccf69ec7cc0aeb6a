package testsupport

import (
	"context"
	"testing"
	"time"

	"fanin/internal/config"
	"fanin/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewBatch creates a running batch with the given items for tests.
func NewBatch(t testing.TB, st interface {
	CreateBatch(context.Context, store.BatchRecord, []string) (*store.BatchRecord, error)
}, id string, items ...string) *store.BatchRecord {
	t.Helper()

	rec, err := st.CreateBatch(context.Background(), store.BatchRecord{ID: id, Timeout: time.Minute}, items)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	return rec
}
