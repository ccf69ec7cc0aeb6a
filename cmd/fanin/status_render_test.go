package main

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Coordinator", statusError, "Stopped", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Coordinator:", "[ERROR] Stopped")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Coordinator", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestBatchStatusLabel(t *testing.T) {
	cases := map[string]string{
		"running":   "Running",
		"completed": "Completed",
		"timed_out": "Timed Out",
		"":          "Unknown",
	}
	for input, want := range cases {
		if got := batchStatusLabel(input); got != want {
			t.Fatalf("batchStatusLabel(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := formatBytes(0); got != "-" {
		t.Fatalf("expected dash for zero bytes, got %q", got)
	}
	if got := formatBytes(2048); got != "2.0 kB" {
		t.Fatalf("unexpected byte formatting %q", got)
	}
	if got := formatWhen(""); got != "-" {
		t.Fatalf("expected dash for empty time, got %q", got)
	}
	past := time.Now().Add(-3 * time.Minute).UTC().Format(time.RFC3339Nano)
	if got := formatWhen(past); !strings.HasSuffix(got, "ago") {
		t.Fatalf("expected relative time, got %q", got)
	}
}

func TestBatchCountRowsSkipsEmpty(t *testing.T) {
	rows := batchCountRows(map[string]int{"timed_out": 2, "completed": 5, "running": 0})
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %v", rows)
	}
	if rows[0][0] != "Completed" || rows[0][1] != "5" || rows[1][0] != "Timed Out" {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"Batch", "Status"}, [][]string{{"b1"}})
	if !strings.Contains(out, "b1") || !strings.Contains(out, "│ Status") || strings.Contains(out, "STATUS") {
		t.Fatalf("unexpected table %q", out)
	}
	if renderTable(nil, nil) != "" {
		t.Fatal("expected empty output without headers")
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}
