package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		" error ": slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range tests {
		if got := ParseLevel(input); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestReporterLogsWithoutSentry(t *testing.T) {
	var buf bytes.Buffer
	reporter, err := NewReporter(New(&buf, "info"), "", "test")
	if err != nil {
		t.Fatalf("NewReporter() error = %v", err)
	}

	reporter.Report(context.Background(), "activity append failed", errors.New("db down"), "project_id", "prj_1")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["level"] != "ERROR" || line["msg"] != "activity append failed" {
		t.Fatalf("unexpected log line: %v", line)
	}
	if line["project_id"] != "prj_1" || line["error"] != "db down" {
		t.Fatalf("missing attrs: %v", line)
	}
}

func TestReporterIgnoresNilError(t *testing.T) {
	var buf bytes.Buffer
	reporter, _ := NewReporter(New(&buf, "info"), "", "test")
	reporter.Report(context.Background(), "noop", nil)
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %s", buf.String())
	}

	var nilReporter *Reporter
	nilReporter.Report(context.Background(), "noop", errors.New("x"))
	nilReporter.Flush(0)
}
