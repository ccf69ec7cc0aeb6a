// Package daemon coordinates the long-running fanin process.
//
// It wires the state store, the singleton gate, the batch coordinator and the
// optional Kafka signal source into a single lifecycle with flock-based
// locking to prevent multiple instances on one state directory. The HTTP API
// server lives here as well; it is a thin translation layer over the Daemon
// methods that the IPC server also calls.
//
// Keep orchestration logic here: batch semantics belong to the workflow
// package while the daemon focuses on startup, shutdown, and request routing.
package daemon
