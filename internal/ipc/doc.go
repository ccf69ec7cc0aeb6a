// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs. Most
// payloads reuse the api package types so HTTP and IPC callers see the same
// shapes. Errors cross the socket as strings; callers that need to branch on
// them should use the HTTP API instead.
package ipc
