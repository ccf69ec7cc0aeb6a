package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fanin/internal/config"
	"fanin/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventBatchCompleted, notifications.Payload{"batchId": "b1"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "batch completed",
			event: notifications.EventBatchCompleted,
			payload: notifications.Payload{
				"batchId":   "b1",
				"completed": 3,
				"expected":  3,
				"bytes":     int64(1_500_000),
			},
			expectTitle:   "Fanin - Batch Complete",
			expectMessage: "✅ Batch b1 complete\nFiles: 3, Size: 1.5 MB",
			expectTags:    "fanin,batch,completed",
		},
		{
			name:  "batch timed out",
			event: notifications.EventBatchTimedOut,
			payload: notifications.Payload{
				"batchId":   "b2",
				"completed": 1,
				"expected":  2,
				"bytes":     int64(2048),
			},
			expectTitle:    "Fanin - Batch Timed Out",
			expectMessage:  "⏱️ Batch b2 timed out with 1 of 2 items\nFiles: 1, Size: 2.0 kB",
			expectTags:     "fanin,batch,timeout",
			expectPriority: "high",
		},
		{
			name:  "dispatch error",
			event: notifications.EventDispatchError,
			payload: notifications.Payload{
				"batchId": "b3",
				"itemId":  "photo.jpg",
				"error":   "worker unreachable",
			},
			expectTitle:    "Fanin - Dispatch Error",
			expectMessage:  "❌ Dispatch failed for photo.jpg in batch b3: worker unreachable",
			expectTags:     "fanin,dispatch,error",
			expectPriority: "high",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			expectTitle:    "Fanin - Test",
			expectMessage:  "🧪 Notification system test",
			expectTags:     "fanin,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Errorf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceIgnoresSuppressedEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for suppressed event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.BatchCompleted = false
	cfg.Notifications.DispatchErrors = false

	svc := notifications.NewService(&cfg)
	suppressed := []notifications.Event{
		notifications.EventBatchCompleted,
		notifications.EventDispatchError,
		notifications.Event("unknown"),
	}
	for _, event := range suppressed {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"batchId": "ignored"}); err != nil {
			t.Fatalf("expected no error for suppressed event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic closed", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	err := notifications.NewService(&cfg).Publish(context.Background(), notifications.EventTest, nil)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
