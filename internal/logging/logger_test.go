package logging_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fanin/internal/config"
	"fanin/internal/logging"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("daemon ready")

	content, err := os.ReadFile(cfg.LogPath())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "daemon ready") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(content)
}

func TestConsoleLoggerLiftsComponentBatchAndItem(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Outputs: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	scoped := logging.ForItem(logging.NewComponentLogger(logger, "coordinator"), "0f8fad5b-d9cb-469f-a165-70867728950e", "a")
	scoped.Info("signal accepted", logging.Int64("bytes", 10), logging.String("note", "two words"))

	line := readLog(t, logPath)
	if !strings.Contains(line, "INFO  coordinator: [0f8fad5b/a] signal accepted") {
		t.Fatalf("expected component and batch/item prefix, got %q", line)
	}
	if !strings.Contains(line, "bytes=10") || !strings.Contains(line, `note="two words"`) {
		t.Fatalf("expected rendered attributes, got %q", line)
	}
	if strings.Contains(line, "item_id=") || strings.Contains(line, "batch_id=") {
		t.Fatalf("expected lifted ids to leave the attribute list, got %q", line)
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}
}

func TestConsoleLoggerGroupsAndFiltering(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "groups.log")
	logger, err := logging.New(logging.Options{Level: "warn", Outputs: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("dropped below level")
	grouped := logger.WithGroup("gate").With(logging.String(logging.FieldBatchID, "b1"))
	grouped.Warn("lease expired", logging.Error(errors.New("holder vanished")))

	line := readLog(t, logPath)
	if strings.Contains(line, "dropped below level") {
		t.Fatalf("expected info record filtered at warn level, got %q", line)
	}
	if !strings.Contains(line, "WARN  lease expired") {
		t.Fatalf("expected grouped ids to stay out of the prefix, got %q", line)
	}
	if !strings.Contains(line, "gate.batch_id=b1") || !strings.Contains(line, `gate.error="holder vanished"`) {
		t.Fatalf("expected group-qualified keys, got %q", line)
	}
}

func TestDebugLevelAddsSource(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "debug.log")
	logger, err := logging.New(logging.Options{Level: "DEBUG", Outputs: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.ForBatch(logger, " ").Debug("lane idle")

	line := readLog(t, logPath)
	if !strings.Contains(line, "DEBUG lane idle [logger_test.go:") {
		t.Fatalf("expected caller after message at debug level, got %q", line)
	}
}

func TestJSONLoggerUsesShortKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Outputs: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("lease expired", logging.String(logging.FieldLeaseID, "l-1"))

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, logPath))), &entry); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if entry["level"] != "warn" || entry["msg"] != "lease expired" || entry["lease_id"] != "l-1" {
		t.Fatalf("unexpected json entry: %#v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key, got %#v", entry)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "json", Outputs: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "signal unmatched", "signal_unmatched")

	content := readLog(t, logPath)
	for _, key := range []string{`"event_type":"signal_unmatched"`, `"error_hint"`, `"impact"`} {
		if !strings.Contains(content, key) {
			t.Fatalf("expected %s in %q", key, content)
		}
	}
}
