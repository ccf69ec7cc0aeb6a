// Package correlate resolves inbound signals to the batch and item they
// report on.
//
// Producers and the coordinator share a naming convention: an event is named
// "<prefix>:<batchId>", where the prefix is the configured completion event
// (ItemCompleted) or work-done event (WorkDone). A bare prefix is accepted
// when the payload carries batchId. The item id comes from the signal itself
// or from the payload (itemId, item_id, fileName, file, or a bare JSON
// string). Everything else is unmatched and is dropped by the caller.
package correlate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fanin/internal/api"
)

// ErrUnmatched is returned for signals that follow no known convention.
var ErrUnmatched = errors.New("signal unmatched")

// Kind distinguishes item completions from worker completion reports.
type Kind string

const (
	KindCompleted Kind = "completed"
	KindWorkDone  Kind = "work_done"
)

// Target is the resolved destination of a signal.
type Target struct {
	Kind    Kind
	BatchID string
	ItemID  string
	Bytes   int64
}

var itemKeys = []string{"itemId", "item_id", "fileName", "file"}

var batchKeys = []string{"batchId", "batch_id"}

// Correlator maps signals to targets using the configured event prefixes.
type Correlator struct {
	completedEvent string
	workDoneEvent  string
}

// New returns a correlator for the given event prefixes.
func New(completedEvent, workDoneEvent string) *Correlator {
	return &Correlator{
		completedEvent: strings.TrimSpace(completedEvent),
		workDoneEvent:  strings.TrimSpace(workDoneEvent),
	}
}

// EventName builds the scoped event name producers should use for batchID.
func (c *Correlator) EventName(kind Kind, batchID string) string {
	prefix := c.completedEvent
	if kind == KindWorkDone {
		prefix = c.workDoneEvent
	}
	return prefix + ":" + batchID
}

// Correlate resolves sig or returns an error wrapping ErrUnmatched.
func (c *Correlator) Correlate(sig api.Signal) (Target, error) {
	name := strings.TrimSpace(sig.EventName)
	prefix, scope, _ := strings.Cut(name, ":")

	var target Target
	switch {
	case prefix != "" && strings.EqualFold(prefix, c.completedEvent):
		target.Kind = KindCompleted
	case prefix != "" && strings.EqualFold(prefix, c.workDoneEvent):
		target.Kind = KindWorkDone
	default:
		return Target{}, fmt.Errorf("%w: unknown event %q", ErrUnmatched, name)
	}

	fields, bare := decodePayload(sig.Payload)

	target.BatchID = strings.TrimSpace(scope)
	if target.BatchID == "" {
		target.BatchID = firstString(fields, batchKeys)
	}
	if target.BatchID == "" {
		return Target{}, fmt.Errorf("%w: event %q carries no batch id", ErrUnmatched, name)
	}

	target.ItemID = strings.TrimSpace(sig.ItemID)
	if target.ItemID == "" {
		target.ItemID = firstString(fields, itemKeys)
	}
	if target.ItemID == "" {
		target.ItemID = strings.TrimSpace(bare)
	}
	if target.ItemID == "" {
		return Target{}, fmt.Errorf("%w: event %q carries no item id", ErrUnmatched, name)
	}

	target.Bytes = readBytes(fields)
	return target, nil
}

// decodePayload returns the fields of an object payload or the value of a
// string payload. Other payload shapes carry nothing the correlator reads.
func decodePayload(raw json.RawMessage) (map[string]json.RawMessage, string) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, ""
	}
	switch trimmed[0] {
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, ""
		}
		return fields, ""
	case '"':
		var bare string
		if err := json.Unmarshal(trimmed, &bare); err != nil {
			return nil, ""
		}
		return nil, bare
	default:
		return nil, ""
	}
}

func firstString(fields map[string]json.RawMessage, keys []string) string {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var value string
		if err := json.Unmarshal(raw, &value); err == nil {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func readBytes(fields map[string]json.RawMessage) int64 {
	raw, ok := fields["bytes"]
	if !ok {
		return 0
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	if v, err := n.Int64(); err == nil && v > 0 {
		return v
	}
	if f, err := n.Float64(); err == nil && f > 0 {
		return int64(f)
	}
	return 0
}
