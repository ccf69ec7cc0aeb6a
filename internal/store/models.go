package store

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a batch.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether no further signals are processed in this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusTimedOut
}

// ParseStatus converts user input (case-insensitive, dashes allowed) to a Status.
func ParseStatus(value string) (Status, bool) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_")
	switch Status(normalized) {
	case StatusRunning, StatusCompleted, StatusTimedOut:
		return Status(normalized), true
	case "timedout":
		return StatusTimedOut, true
	}
	return "", false
}

// DispatchState tracks the worker ticket attached to an item.
type DispatchState string

const (
	DispatchNone       DispatchState = "none"
	DispatchQueued     DispatchState = "queued"
	DispatchDispatched DispatchState = "dispatched"
	DispatchDone       DispatchState = "done"
	DispatchError      DispatchState = "error"
	DispatchExpired    DispatchState = "expired"
)

// BatchRecord is the persisted batch row plus derived item totals.
type BatchRecord struct {
	ID            string
	Status        Status
	ExpectedCount int
	Timeout       time.Duration
	CreatedAt     time.Time
	UpdatedAt     time.Time
	FinishedAt    *time.Time

	// Derived from item rows when read.
	CompletedCount int
	TotalBytes     int64
}

// ItemRecord is the per-item completion row.
type ItemRecord struct {
	BatchID          string
	ItemID           string
	Completed        bool
	Version          int64
	CompletedAt      *time.Time
	Bytes            int64
	DispatchState    DispatchState
	DispatchAttempts int
	DispatchError    string
	TicketID         string
	DispatchedAt     *time.Time
	UpdatedAt        time.Time
}

// Completion carries the optional data recorded with a first-time completion.
type Completion struct {
	Bytes         int64
	QueueDispatch bool
}

// Lease is a time-bounded exclusive hold on a named gate.
type Lease struct {
	Name       string
	Holder     string
	ID         string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the lease is past its expiry at now.
func (l Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// NormalizeItems trims ids, drops blanks and collapses duplicates while
// preserving first-seen order.
func NormalizeItems(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
