package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"fanin/internal/config"
)

const userAgent = "Fanin-Go/0.1.0"

// Event identifies a notification type.
type Event string

const (
	EventBatchCompleted Event = "batch_completed"
	EventBatchTimedOut  Event = "batch_timed_out"
	EventDispatchError  Event = "dispatch_error"
	EventTest           Event = "test"
)

// Payload carries event fields. Known keys: batchId, itemId, completed,
// expected, bytes, error.
type Payload map[string]any

// Service defines the notification surface exposed to workflow components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventBatchCompleted: cfg.Notifications.BatchCompleted,
			EventBatchTimedOut:  cfg.Notifications.BatchTimedOut,
			EventDispatchError:  cfg.Notifications.DispatchErrors,
			EventTest:           true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	batchID := payload.str("batchId")
	switch event {
	case EventBatchCompleted:
		return message{
			title: "Fanin - Batch Complete",
			body:  fmt.Sprintf("✅ Batch %s complete\n%s", batchID, summary(payload)),
			tags:  []string{"fanin", "batch", "completed"},
		}, true
	case EventBatchTimedOut:
		return message{
			title: "Fanin - Batch Timed Out",
			body: fmt.Sprintf("⏱️ Batch %s timed out with %d of %d items\n%s",
				batchID, payload.num("completed"), payload.num("expected"), summary(payload)),
			tags:     []string{"fanin", "batch", "timeout"},
			priority: "high",
		}, true
	case EventDispatchError:
		errText := strings.TrimSpace(payload.str("error"))
		if errText == "" {
			errText = "unknown"
		}
		return message{
			title:    "Fanin - Dispatch Error",
			body:     fmt.Sprintf("❌ Dispatch failed for %s in batch %s: %s", payload.str("itemId"), batchID, errText),
			tags:     []string{"fanin", "dispatch", "error"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Fanin - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"fanin", "test"},
			priority: "low",
		}, true
	}
	return message{}, false
}

// summary mirrors the "Files: N, Size: X" line of the batch report.
func summary(payload Payload) string {
	bytes := payload.num("bytes")
	if bytes < 0 {
		bytes = 0
	}
	return fmt.Sprintf("Files: %d, Size: %s", payload.num("completed"), humanize.Bytes(uint64(bytes)))
}

func (p Payload) str(key string) string {
	if value, ok := p[key]; ok && value != nil {
		return strings.TrimSpace(fmt.Sprint(value))
	}
	return ""
}

func (p Payload) num(key string) int64 {
	switch v := p[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
