// Package preflight provides readiness checks for the filesystem paths and
// external endpoints fanin depends on.
//
// These checks run in two contexts:
//   - The daemon runner calls RunAll before starting. A failed state
//     directory check aborts startup; endpoint failures are logged.
//   - The CLI "fanin doctor" command renders every result.
//
// Each endpoint check is gated by its config toggle -- unused transports are
// skipped.
package preflight
