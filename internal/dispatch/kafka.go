package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaDispatcher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDispatcher publishes work requests to a topic keyed by item.
type KafkaDispatcher struct {
	writer MessageWriter
}

// NewKafkaDispatcher returns a dispatcher writing to topic on brokers.
func NewKafkaDispatcher(brokers []string, topic string) *KafkaDispatcher {
	return NewKafkaDispatcherWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.LeastBytes{},
	})
}

// NewKafkaDispatcherWithWriter wraps an existing writer.
func NewKafkaDispatcherWithWriter(writer MessageWriter) *KafkaDispatcher {
	return &KafkaDispatcher{writer: writer}
}

// Dispatch publishes req and returns once the brokers acknowledge it.
func (k *KafkaDispatcher) Dispatch(ctx context.Context, req Request) (Receipt, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return Receipt{}, failed(fmt.Errorf("encode request: %w", err))
	}
	now := time.Now().UTC()
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(req.BatchID + "/" + req.ItemID),
		Value: data,
		Time:  now,
		Headers: []kafka.Header{
			{Key: "ticket-id", Value: []byte(req.TicketID)},
		},
	}); err != nil {
		return Receipt{}, failed(fmt.Errorf("publish work: %w", err))
	}
	return Receipt{TicketID: req.TicketID, AcceptedAt: now}, nil
}

// Close flushes and closes the writer.
func (k *KafkaDispatcher) Close() error {
	return k.writer.Close()
}
