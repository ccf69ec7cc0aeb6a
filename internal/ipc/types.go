package ipc

import "fanin/internal/api"

// StartRequest triggers daemon startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops background processing.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse mirrors the HTTP status payload.
type StatusResponse = api.DaemonStatus

// CreateBatchRequest starts a batch.
type CreateBatchRequest = api.CreateBatchRequest

// CreateBatchResponse reports the created batch.
type CreateBatchResponse = api.CreateBatchResponse

// BatchRequest fetches a single batch.
type BatchRequest struct {
	BatchID string `json:"batch_id"`
	Items   bool   `json:"items"`
}

// BatchResponse carries one batch result.
type BatchResponse struct {
	Batch api.BatchResult `json:"batch"`
}

// BatchListRequest filters batches by status.
type BatchListRequest struct {
	Statuses []string `json:"statuses"`
}

// BatchListResponse contains batch summaries.
type BatchListResponse = api.BatchListResponse

// AwaitRequest waits for a batch to finish.
type AwaitRequest struct {
	BatchID        string  `json:"batch_id"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

// AwaitResponse carries the final or partial batch result.
type AwaitResponse struct {
	Batch api.BatchResult `json:"batch"`
}

// SignalRequest delivers a completion signal.
type SignalRequest = api.Signal

// SignalResponse reports the signal outcome.
type SignalResponse = api.SignalResponse

// WorkDoneRequest reports a finished worker ticket.
type WorkDoneRequest = api.WorkDoneRequest

// TestNotificationRequest requests a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports whether the notification was sent.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
