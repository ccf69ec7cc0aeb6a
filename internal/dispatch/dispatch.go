// Package dispatch starts external work for accepted items.
//
// A Dispatcher issues the call that starts the long-running worker and
// returns as soon as the worker has accepted it. Completion is never inferred
// from the call's result; the worker reports back later with a WorkDone
// signal. HTTPDispatcher posts JSON to a worker endpoint, KafkaDispatcher
// publishes a work message, and LogDispatcher only records the request for
// deployments where workers watch the coordinator's own state.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fanin/internal/config"
)

var (
	// ErrDispatchFailed wraps every failure to start external work.
	ErrDispatchFailed = errors.New("dispatch failed")
	// ErrWorkerBusy is returned when the worker refuses new work. It is
	// still a dispatch failure and is retried like one.
	ErrWorkerBusy = errors.New("worker busy")
)

// Request describes the item to hand to the worker.
type Request struct {
	BatchID     string `json:"batchId"`
	ItemID      string `json:"itemId"`
	TicketID    string `json:"ticketId"`
	Bytes       int64  `json:"bytes,omitempty"`
	ReportEvent string `json:"reportEvent,omitempty"`
}

// Receipt acknowledges that the worker accepted a request.
type Receipt struct {
	TicketID   string
	Reference  string
	AcceptedAt time.Time
}

// Dispatcher starts external processing for one item.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (Receipt, error)
}

// Closer is implemented by dispatchers that hold connections.
type Closer interface {
	Close() error
}

// New builds the dispatcher selected by cfg.Dispatch.Mode.
func New(cfg *config.Config, logger *slog.Logger) (Dispatcher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Dispatch.Mode)) {
	case config.DispatchModeHTTP:
		timeout := time.Duration(cfg.Dispatch.RequestTimeout) * time.Second
		return NewHTTPDispatcher(cfg.Dispatch.URL, timeout), nil
	case config.DispatchModeKafka:
		return NewKafkaDispatcher(cfg.Dispatch.KafkaBrokers, cfg.Dispatch.KafkaTopic), nil
	case config.DispatchModeLog, "":
		return NewLogDispatcher(logger), nil
	default:
		return nil, fmt.Errorf("dispatch mode %q is not supported", cfg.Dispatch.Mode)
	}
}

// PolicyFromConfig returns the retry policy configured for dispatch calls.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		Attempts: cfg.Dispatch.MaxAttempts,
		Backoff:  time.Duration(cfg.Dispatch.BackoffMillis) * time.Millisecond,
	}
}

func failed(err error) error {
	if errors.Is(err, ErrDispatchFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDispatchFailed, err)
}
