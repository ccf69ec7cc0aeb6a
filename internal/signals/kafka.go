// Package signals feeds completion signals from a Kafka topic into the
// coordinator.
//
// Each message value is a JSON api.Signal. A message is committed only after
// the coordinator has handled it, so a crash replays at most the messages in
// flight; replays are harmless because completions are idempotent. Messages
// that cannot be decoded are logged and committed so they never block the
// partition.
package signals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"fanin/internal/api"
	"fanin/internal/config"
	"fanin/internal/logging"
)

// Reader is the subset of *kafka.Reader the source uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Ingester handles one decoded signal.
type Ingester interface {
	Ingest(ctx context.Context, sig api.Signal) (api.SignalResponse, error)
}

// Source consumes signals from Kafka.
type Source struct {
	reader   Reader
	ingester Ingester
	logger   *slog.Logger
	backoff  time.Duration
}

// NewKafkaSource builds a consumer-group reader from the signals config.
func NewKafkaSource(cfg *config.Config, ingester Ingester, logger *slog.Logger) (*Source, error) {
	brokers := cfg.Signals.KafkaBrokers
	if len(brokers) == 0 {
		return nil, errors.New("signals.kafka_brokers is required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  cfg.Signals.KafkaGroup,
		Topic:    cfg.Signals.KafkaTopic,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})
	return NewSource(reader, ingester, logger), nil
}

// NewSource wraps an existing reader.
func NewSource(reader Reader, ingester Ingester, logger *slog.Logger) *Source {
	return &Source{
		reader:   reader,
		ingester: ingester,
		logger:   logging.NewComponentLogger(logger, "signals"),
		backoff:  time.Second,
	}
}

// SetBackoff changes the wait between retries after a failure.
func (s *Source) SetBackoff(d time.Duration) {
	if d > 0 {
		s.backoff = d
	}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (s *Source) Run(ctx context.Context) error {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("signal reader closed: %w", err)
			}
			logging.WarnWithContext(s.logger, "signal fetch failed", "signal_fetch_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check signals.kafka_brokers and topic"),
				logging.String(logging.FieldImpact, "signals are delayed until the broker answers"),
			)
			if !s.sleep(ctx) {
				return nil
			}
			continue
		}
		if !s.handle(ctx, msg) {
			return nil
		}
		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Debug("signal commit failed; message may be replayed",
				logging.Int64("offset", msg.Offset),
				logging.Error(err),
			)
		}
	}
}

// handle ingests msg, retrying while the coordinator reports a failure. It
// returns false when ctx ended first.
func (s *Source) handle(ctx context.Context, msg kafka.Message) bool {
	var sig api.Signal
	if err := json.Unmarshal(msg.Value, &sig); err != nil || strings.TrimSpace(sig.EventName) == "" {
		if err == nil {
			err = errors.New("eventName missing")
		}
		logging.WarnWithContext(s.logger, "malformed signal dropped", "signal_malformed",
			logging.Int64("offset", msg.Offset),
			logging.Int("partition", msg.Partition),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "producers must publish JSON {eventName, itemId, payload}"),
			logging.String(logging.FieldImpact, "message committed without effect"),
		)
		return true
	}
	for {
		resp, err := s.ingester.Ingest(ctx, sig)
		if err == nil {
			s.logger.Debug("signal ingested",
				logging.String(logging.FieldEventName, sig.EventName),
				logging.String("outcome", resp.Outcome),
			)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		logging.WarnWithContext(s.logger, "signal ingestion failed; retrying", "signal_ingest_failed",
			logging.String(logging.FieldEventName, sig.EventName),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check state database access"),
			logging.String(logging.FieldImpact, "message is not committed until handled"),
		)
		if !s.sleep(ctx) {
			return false
		}
	}
}

func (s *Source) sleep(ctx context.Context) bool {
	timer := time.NewTimer(s.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Close releases the reader.
func (s *Source) Close() error {
	return s.reader.Close()
}
