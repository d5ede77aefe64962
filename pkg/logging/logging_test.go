package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New("debug", "json", &buf)
	logger.Debug("worker_spawned", "id", "abc")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected json output, got %q: %v", buf.String(), err)
	}
	if record["msg"] != "worker_spawned" || record["id"] != "abc" {
		t.Fatalf("record = %v", record)
	}
}

func TestNewTextRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New("warn", "TEXT", &buf)
	logger.Info("hidden")
	logger.Warn("worker_stuck")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "msg=worker_stuck") {
		t.Fatalf("output = %q", out)
	}
}

func TestAutoFormatOffTerminal(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New("info", "auto", &buf).Info("evaluation_rejected")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("auto format should be json off a terminal: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
