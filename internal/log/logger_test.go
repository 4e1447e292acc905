package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestSetup(t *testing.T) {
	logger = nil
	once = *new(sync.Once)

	Setup("DEBUG", "json")
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "info", "text")
	l.Info("hello", "k", "v")

	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "k=v") {
		t.Fatalf("unexpected text output: %q", out)
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithComponent("test-comp").Info("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["component"] != "test-comp" {
		t.Errorf("Expected component 'test-comp', got %v", out["component"])
	}
	if out["msg"] != "hello" {
		t.Errorf("Expected msg 'hello', got %v", out["msg"])
	}
}

func TestWithDelivery(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithDelivery("dlv-123").Info("delivery msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["delivery_id"] != "dlv-123" {
		t.Errorf("Expected delivery_id 'dlv-123', got %v", out["delivery_id"])
	}
}

func TestWithWebhook(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithWebhook("wh-1").Info("webhook msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["webhook_id"] != "wh-1" {
		t.Errorf("Expected webhook_id 'wh-1', got %v", out["webhook_id"])
	}
}
