package api_test

import (
	"encoding/json"
	"testing"
	"time"

	"fanin/internal/api"
	"fanin/internal/store"
)

func TestFromBatchSplitsCompletedAndPending(t *testing.T) {
	created := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	finished := created.Add(time.Minute)
	rec := &store.BatchRecord{
		ID:            "b1",
		Status:        store.StatusTimedOut,
		ExpectedCount: 3,
		CreatedAt:     created,
		FinishedAt:    &finished,
	}
	items := []store.ItemRecord{
		{ItemID: "a", Completed: true, Bytes: 100, DispatchState: store.DispatchDone},
		{ItemID: "b", Completed: true, Bytes: 50, DispatchState: store.DispatchError, DispatchError: "worker unreachable"},
		{ItemID: "c", DispatchState: store.DispatchNone},
	}

	result := api.FromBatch(rec, items, false)
	if result.Status != "timed_out" || result.ExpectedCount != 3 || result.TotalBytes != 150 {
		t.Fatalf("unexpected result header: %#v", result)
	}
	if len(result.Completed) != 2 || len(result.Pending) != 1 || result.Pending[0] != "c" {
		t.Fatalf("unexpected split: completed=%v pending=%v", result.Completed, result.Pending)
	}
	if result.DispatchErrors["b"] != "worker unreachable" || len(result.DispatchErrors) != 1 {
		t.Fatalf("unexpected dispatch errors: %#v", result.DispatchErrors)
	}
	if result.CreatedAt != "2026-03-04T05:06:07.000Z" || result.FinishedAt != "2026-03-04T05:07:07.000Z" {
		t.Fatalf("unexpected timestamps: %q %q", result.CreatedAt, result.FinishedAt)
	}
	if result.Items != nil {
		t.Fatal("expected no item detail unless requested")
	}
	if detailed := api.FromBatch(rec, items, true); len(detailed.Items) != 3 {
		t.Fatalf("expected item detail, got %#v", detailed.Items)
	}
}

func TestBatchResultJSONUsesEmptyListsNotNull(t *testing.T) {
	rec := &store.BatchRecord{ID: "b1", Status: store.StatusRunning, ExpectedCount: 1}
	data, err := json.Marshal(api.FromBatch(rec, nil, false))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["completed"].([]any); !ok {
		t.Fatalf("expected completed to be an array, got %s", data)
	}
	if _, ok := decoded["dispatchErrors"]; ok {
		t.Fatalf("expected dispatchErrors omitted when empty, got %s", data)
	}
}

func TestFromLease(t *testing.T) {
	if status := api.FromLease("worker", nil); status.Held || status.Name != "worker" {
		t.Fatalf("unexpected idle status %#v", status)
	}
	expires := time.Date(2026, 1, 1, 0, 15, 0, 0, time.UTC)
	status := api.FromLease("worker", &store.Lease{Name: "worker", Holder: "t-1", ID: "l-1", ExpiresAt: expires})
	if !status.Held || status.Holder != "t-1" || status.ExpiresAt != "2026-01-01T00:15:00.000Z" {
		t.Fatalf("unexpected held status %#v", status)
	}
}
