package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerWritesJSON(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Info("session started", "tasks", 3)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "session.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("log entry is not JSON: %v", err)
	}
	if entry["msg"] != "session started" {
		t.Errorf("unexpected msg: %v", entry["msg"])
	}
	if entry["tasks"] != float64(3) {
		t.Errorf("unexpected tasks attr: %v", entry["tasks"])
	}
}

func TestChildLoggersInheritAttrs(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelDebug)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	child := logger.WithSession("ab12cd34").WithAgent("agent-1").WithPhase("execute")
	child.Debug("tool call", "tool", "read_file")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "session.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["session_id"] != "ab12cd34" {
		t.Errorf("missing session_id: %v", entry)
	}
	if entry["agent"] != "agent-1" {
		t.Errorf("missing agent: %v", entry)
	}
	if entry["phase"] != "execute" {
		t.Errorf("missing phase: %v", entry)
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelWarn)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Info("should be filtered")
	logger.Warn("should appear")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(dir, "session.log"))
	content := string(data)
	if strings.Contains(content, "should be filtered") {
		t.Error("INFO entry should have been filtered at WARN level")
	}
	if !strings.Contains(content, "should appear") {
		t.Error("WARN entry missing")
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	// Must not panic and Close must be a no-op.
	logger.Info("discarded")
	if err := logger.Close(); err != nil {
		t.Errorf("Close on NopLogger: %v", err)
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if got := parseLevel("bogus"); got != parseLevel(LevelInfo) {
		t.Errorf("unknown level should default to INFO, got %v", got)
	}
}
