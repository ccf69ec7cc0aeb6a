package workflow

import "errors"

// ErrNotRunning is returned by operations that need a started Manager.
var ErrNotRunning = errors.New("coordinator not running")

// Outcome reports how a signal was handled.
type Outcome string

const (
	// OutcomeAccepted is the first completion of an expected item.
	OutcomeAccepted Outcome = "accepted"
	// OutcomeDuplicate is a repeat completion; nothing changed.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored is a signal for an item outside the expected set.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeClosed is a signal for a batch that already finished.
	OutcomeClosed Outcome = "closed"
	// OutcomeUnmatched is a signal that names no known batch.
	OutcomeUnmatched Outcome = "unmatched"
)

type signalRequest struct {
	itemID string
	bytes  int64
	reply  chan signalReply
}

type signalReply struct {
	outcome Outcome
	err     error
}
