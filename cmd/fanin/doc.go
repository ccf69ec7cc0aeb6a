// Package main hosts the fanin CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into IPC calls
// against the daemon: batch creation and inspection, signal delivery, worker
// completion reports, and configuration scaffolding. The daemon itself runs
// in the foreground under "fanin daemon".
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
