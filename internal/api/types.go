package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// CreateBatchRequest starts a batch over a set of item ids.
type CreateBatchRequest struct {
	BatchID        string   `json:"batchId,omitempty"`
	Items          []string `json:"items"`
	TimeoutSeconds int      `json:"timeoutSeconds,omitempty"`
}

// CreateBatchResponse reports the batch id and the size of the expected set.
type CreateBatchResponse struct {
	BatchID       string `json:"batchId"`
	ExpectedCount int    `json:"expectedCount"`
}

// Signal is an inbound completion notification.
type Signal struct {
	EventName string          `json:"eventName"`
	ItemID    string          `json:"itemId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SignalResponse reports how a signal was handled.
type SignalResponse struct {
	Outcome string `json:"outcome"`
	BatchID string `json:"batchId,omitempty"`
	ItemID  string `json:"itemId,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// WorkDoneRequest reports that the worker finished the item it was dispatched.
type WorkDoneRequest struct {
	BatchID string `json:"batchId"`
	ItemID  string `json:"itemId"`
}

// BatchResult is the externally visible state of a batch.
type BatchResult struct {
	BatchID        string            `json:"batchId"`
	Status         string            `json:"status"`
	Completed      []string          `json:"completed"`
	Pending        []string          `json:"pending"`
	DispatchErrors map[string]string `json:"dispatchErrors,omitempty"`
	ExpectedCount  int               `json:"expectedCount"`
	TotalBytes     int64             `json:"totalBytes"`
	CreatedAt      string            `json:"createdAt,omitempty"`
	FinishedAt     string            `json:"finishedAt,omitempty"`
	Items          []BatchItem       `json:"items,omitempty"`
}

// BatchItem describes one item row in detail views.
type BatchItem struct {
	ItemID        string `json:"itemId"`
	Completed     bool   `json:"completed"`
	Bytes         int64  `json:"bytes,omitempty"`
	CompletedAt   string `json:"completedAt,omitempty"`
	DispatchState string `json:"dispatchState"`
	DispatchError string `json:"dispatchError,omitempty"`
	TicketID      string `json:"ticketId,omitempty"`
}

// BatchSummary is a compact batch row for listings.
type BatchSummary struct {
	BatchID        string `json:"batchId"`
	Status         string `json:"status"`
	ExpectedCount  int    `json:"expectedCount"`
	CompletedCount int    `json:"completedCount"`
	TotalBytes     int64  `json:"totalBytes"`
	CreatedAt      string `json:"createdAt,omitempty"`
	FinishedAt     string `json:"finishedAt,omitempty"`
}

// BatchListResponse wraps a collection of batch summaries.
type BatchListResponse struct {
	Batches []BatchSummary `json:"batches"`
}

// GateStatus describes the singleton lease.
type GateStatus struct {
	Name      string `json:"name"`
	Held      bool   `json:"held"`
	Holder    string `json:"holder,omitempty"`
	LeaseID   string `json:"leaseId,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

// CoordinatorStatus summarizes coordinator runtime state.
type CoordinatorStatus struct {
	Running       bool           `json:"running"`
	ActiveBatches int            `json:"activeBatches"`
	BatchCounts   map[string]int `json:"batchCounts"`
	LastError     string         `json:"lastError,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool              `json:"running"`
	PID          int               `json:"pid"`
	DatabasePath string            `json:"databasePath"`
	LockFilePath string            `json:"lockFilePath"`
	SocketPath   string            `json:"socketPath"`
	APIBind      string            `json:"apiBind,omitempty"`
	DispatchMode string            `json:"dispatchMode"`
	Gate         GateStatus        `json:"gate"`
	Coordinator  CoordinatorStatus `json:"coordinator"`
}
