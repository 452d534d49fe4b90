package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/echochamber/arena/internal/dispatcher"
)

var _ dispatcher.Logger = (*DispatcherLogger)(nil)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	return logEntry
}

func TestDispatcherLogger_Debug(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.DebugLevel), "relay")

	dl.Debug("test message", "key1", "value1", "key2", 42)

	logEntry := decodeEntry(t, &buf)
	if logEntry["level"] != "debug" {
		t.Errorf("expected level 'debug', got %v", logEntry["level"])
	}
	if logEntry["message"] != "test message" {
		t.Errorf("expected message 'test message', got %v", logEntry["message"])
	}
	if logEntry["component"] != "relay" {
		t.Errorf("expected component 'relay', got %v", logEntry["component"])
	}
	if logEntry["key1"] != "value1" {
		t.Errorf("expected key1='value1', got %v", logEntry["key1"])
	}
	if logEntry["key2"] != float64(42) {
		t.Errorf("expected key2=42, got %v", logEntry["key2"])
	}
}

func TestDispatcherLogger_Info(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf), "")

	dl.Info("info message", "status", "ok")

	logEntry := decodeEntry(t, &buf)
	if logEntry["level"] != "info" {
		t.Errorf("expected level 'info', got %v", logEntry["level"])
	}
	if _, ok := logEntry["component"]; ok {
		t.Errorf("expected no component field, got %v", logEntry["component"])
	}
	if logEntry["status"] != "ok" {
		t.Errorf("expected status='ok', got %v", logEntry["status"])
	}
}

func TestDispatcherLogger_ErrorFlattensErrors(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf), "relay")

	dl.Error("handler failed", "type", "damage", "error", errors.New("bad payload"))

	logEntry := decodeEntry(t, &buf)
	if logEntry["level"] != "error" {
		t.Errorf("expected level 'error', got %v", logEntry["level"])
	}
	if logEntry["error"] != "bad payload" {
		t.Errorf("expected error='bad payload', got %v", logEntry["error"])
	}
	if logEntry["type"] != "damage" {
		t.Errorf("expected type='damage', got %v", logEntry["type"])
	}
}

func TestDispatcherLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.InfoLevel), "relay")

	dl.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestToFields_OddAndNonStringKeys(t *testing.T) {
	fields := toFields([]any{"a", 1, 2, "b", "dangling"})
	if len(fields) != 1 {
		t.Fatalf("expected 1 field, got %v", fields)
	}
	if fields["a"] != 1 {
		t.Errorf("expected a=1, got %v", fields["a"])
	}
}
