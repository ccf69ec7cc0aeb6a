package workflow

import (
	"context"

	"fanin/internal/store"
)

// Store is the item state store the coordinator runs against. It is
// satisfied by *store.Store and *store.MemoryStore.
type Store interface {
	CreateBatch(ctx context.Context, rec store.BatchRecord, items []string) (*store.BatchRecord, error)
	GetBatch(ctx context.Context, batchID string) (*store.BatchRecord, error)
	ListBatches(ctx context.Context, statuses ...store.Status) ([]store.BatchRecord, error)
	TransitionBatch(ctx context.Context, batchID string, from, to store.Status) (bool, error)

	GetItem(ctx context.Context, batchID, itemID string) (*store.ItemRecord, error)
	ListItems(ctx context.Context, batchID string) ([]store.ItemRecord, error)
	MarkCompleted(ctx context.Context, batchID, itemID string, c store.Completion) (bool, error)
	IsFullyCompleted(ctx context.Context, batchID string) (bool, error)

	NextQueuedDispatch(ctx context.Context) (*store.ItemRecord, error)
	ClaimDispatch(ctx context.Context, batchID, itemID, ticketID string) (bool, error)
	FinishDispatch(ctx context.Context, ticketID string, state store.DispatchState, message string) (bool, error)
	RequeueDispatch(ctx context.Context, ticketID string) (bool, error)
	DispatchByTicket(ctx context.Context, ticketID string) (*store.ItemRecord, error)
}

var (
	_ Store = (*store.Store)(nil)
	_ Store = (*store.MemoryStore)(nil)
)
