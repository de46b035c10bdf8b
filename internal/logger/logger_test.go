package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New("info", &buf)
	l.Info("dispatch finished", "runs", 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log output: %v", err)
	}
	if entry["msg"] != "dispatch finished" {
		t.Errorf("unexpected msg %v", entry["msg"])
	}
	if entry["runs"] != float64(3) {
		t.Errorf("unexpected runs %v", entry["runs"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewText("warn", &buf)
	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn message should be logged")
	}
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := NewText("debug", &buf)
	ctx := WithLogger(context.Background(), l)

	FromContext(ctx).Debug("from context")
	if !strings.Contains(buf.String(), "from context") {
		t.Error("expected logger carried by context to be used")
	}

	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected default logger when context carries none")
	}
}

func TestComponentLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewComponents("info", map[string]slog.Level{"market": slog.LevelDebug}, &buf)

	l.With(ComponentKey, "market").Debug("offer received")
	l.With(ComponentKey, "activity").Debug("task started")
	l.Debug("bundle written", ComponentKey, "market")
	l.Debug("invoice accepted", ComponentKey, "payment")
	l.Debug("no component")
	l.With(ComponentKey, "activity").Info("task computed")

	out := buf.String()
	for _, msg := range []string{"offer received", "bundle written", "task computed"} {
		if !strings.Contains(out, msg) {
			t.Errorf("expected %q in output:\n%s", msg, out)
		}
	}
	for _, msg := range []string{"task started", "invoice accepted", "no component"} {
		if strings.Contains(out, msg) {
			t.Errorf("%q should be filtered:\n%s", msg, out)
		}
	}
}
