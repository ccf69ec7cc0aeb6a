// Package api defines wire-format types and converters shared by the HTTP
// server, the IPC layer and the CLI. It translates store records into
// transport-friendly DTOs so consumers never couple to internal types.
//
// # Key Types
//
// CreateBatchRequest/CreateBatchResponse: the batch creation boundary.
//
// Signal/SignalResponse: the signal ingestion boundary. Signals carry an event
// name, an optional item id and an optional raw JSON payload.
//
// BatchResult: the result query boundary, listing completed and pending item
// ids plus any dispatch errors recorded against items.
//
// DaemonStatus: daemon running state, gate holder and batch counts.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Batch statuses are exposed as lowercase
// strings. Timestamps use RFC3339 with milliseconds. Payloads are passed
// through as json.RawMessage so the correlator decides how to read them.
package api
