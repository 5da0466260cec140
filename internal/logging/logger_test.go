// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// TestInit verifies logger initialization.
func TestInit(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, LevelInfo)

	logger := Get()
	if logger == nil {
		t.Fatal("Get() returned nil after Init()")
	}

	logger.Info("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("Expected log output, got: %s", buf.String())
	}
}

// TestLevelFiltering verifies messages below minLevel are dropped.
func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, LevelWarn)

	Debug("debug msg")
	Info("info msg")
	Warn("warn msg")

	out := buf.String()
	if strings.Contains(out, "debug msg") || strings.Contains(out, "info msg") {
		t.Errorf("Expected debug/info to be filtered, got: %s", out)
	}
	if !strings.Contains(out, "warn msg") {
		t.Errorf("Expected warn to pass, got: %s", out)
	}
}

// TestStructuredOutput verifies entries are valid JSON with context.
func TestStructuredOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, LevelDebug)

	Error("sync failed", errors.New("boom"),
		map[string]interface{}{"failed": 2})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v (%s)", err, buf.String())
	}

	if entry.Level != "ERROR" {
		t.Errorf("Expected ERROR level, got %s", entry.Level)
	}
	if entry.Error != "boom" {
		t.Errorf("Expected error field, got %q", entry.Error)
	}
	if entry.Context["failed"] != float64(2) {
		t.Errorf("Expected context failed=2, got %v", entry.Context["failed"])
	}
}

// TestErrorWithCode verifies the code lands in context.
func TestErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, LevelDebug)

	ErrorWithCode("pull failed", "PULL_FAILED", errors.New("page 3"))

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if entry.Context["code"] != "PULL_FAILED" {
		t.Errorf("Expected code in context, got %v", entry.Context)
	}
}
