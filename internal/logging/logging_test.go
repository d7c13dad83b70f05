package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"invalid", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("expected json format, got %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("expected text format, got %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("expected default level Info, got %v", cfg.Level)
	}
	if cfg.Format != FormatText {
		t.Errorf("expected default format Text, got %v", cfg.Format)
	}
	if cfg.Output != "stderr" {
		t.Errorf("expected default output stderr, got %s", cfg.Output)
	}
	if cfg.Component != "calltrace" {
		t.Errorf("expected component calltrace, got %s", cfg.Component)
	}
}

func TestJSONFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "calltrace.log")
	l, err := New(&Config{
		Level:     LevelDebug,
		Format:    FormatJSON,
		Output:    path,
		Component: "replay",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	l.Debug("step replayed", "index", 3, "passphrase", "hunter2")
	if err := l.Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["component"] != "replay" {
		t.Errorf("expected component replay, got %v", entry["component"])
	}
	if entry["msg"] != "step replayed" {
		t.Errorf("expected msg, got %v", entry["msg"])
	}
	if entry["passphrase"] != "[REDACTED]" {
		t.Errorf("expected passphrase to be redacted, got %v", entry["passphrase"])
	}
}

func TestLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warn.log")
	l, err := New(&Config{Level: LevelWarn, Output: path})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	l.Info("hidden")
	l.Warn("shown")
	l.Close()

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "hidden") {
		t.Error("info message should be filtered")
	}
	if !strings.Contains(string(data), "shown") {
		t.Error("warn message missing")
	}
}

func TestWithComponent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.log")
	l, err := New(&Config{Output: path})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	l.WithComponent("store").Info("opened")
	l.Close()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "component=store") {
		t.Errorf("expected component attribute, got %q", data)
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("dropped")
	if err := l.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
