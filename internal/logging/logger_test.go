package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesToBuffer(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelInfo, io.Discard)

	logger.Info("started", map[string]string{"watcher_id": "1"})

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != LevelInfo {
		t.Fatalf("expected info level, got %q", entry.Level)
	}
	if entry.Message != "started" {
		t.Fatalf("expected message started, got %q", entry.Message)
	}
	if entry.Context["watcher_id"] != "1" {
		t.Fatalf("expected context terminal_id=1, got %v", entry.Context)
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelWarning, io.Discard)

	logger.Info("info", nil)
	logger.Warn("warn", nil)

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Level != LevelWarning {
		t.Fatalf("expected warning level, got %q", entries[0].Level)
	}
}

func TestLoggerStreamDeliversAllEntries(t *testing.T) {
	logger := NewLoggerWithOutput(NewLogBuffer(50), LevelInfo, io.Discard)
	output, cancel := logger.Subscribe()
	defer cancel()

	const total = 200
	done := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			logger.Info("message", nil)
		}
		close(done)
	}()

	received := 0
	deadline := time.After(2 * time.Second)
	for received < total {
		select {
		case <-output:
			received++
		case <-deadline:
			t.Fatalf("timed out after receiving %d entries", received)
		}
	}

	<-done
}

func TestLoggerRendersConsoleOutput(t *testing.T) {
	var output bytes.Buffer
	logger := NewLoggerWithOutput(NewLogBuffer(10), LevelDebug, &output).With(map[string]string{
		"filewatch.category": "watcher",
	})

	logger.Warn("event spam detected", map[string]string{"path": "/w/a.txt"})

	line := output.String()
	assert.Contains(t, line, "WARN")
	assert.Contains(t, line, "event spam detected")
	assert.Contains(t, line, `"path": "/w/a.txt"`)
	assert.Contains(t, line, `"filewatch.category": "watcher"`)
}

func TestLoggerRendersJSONOutput(t *testing.T) {
	var output bytes.Buffer
	logger := NewLoggerWithFormat(NewLogBuffer(10), LevelInfo, &output, FormatJSON)

	logger.Debug("hidden", nil)
	logger.Error("watch failed", map[string]string{"error": "boom"})

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(output.Bytes(), &decoded))
	assert.Equal(t, "error", decoded["level"])
	assert.Equal(t, "watch failed", decoded["msg"])
	assert.Equal(t, "boom", decoded["error"])
}

func TestParseFormat(t *testing.T) {
	format, ok := ParseFormat("JSON")
	require.True(t, ok)
	assert.Equal(t, FormatJSON, format)

	format, ok = ParseFormat("")
	require.True(t, ok)
	assert.Equal(t, FormatConsole, format)

	_, ok = ParseFormat("xml")
	assert.False(t, ok)
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Info("ignored", nil)
	assert.False(t, logger.Enabled(LevelError))
	assert.NoError(t, logger.Sync())
}
