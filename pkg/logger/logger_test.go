package logger

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitAndLevelString(t *testing.T) {
	Init("debug")
	if got := LevelString(); got != "debug" {
		t.Fatalf("LevelString() = %q, want %q", got, "debug")
	}
	Init("WARNING")
	if got := LevelString(); got != "warn" {
		t.Fatalf("LevelString() = %q, want %q", got, "warn")
	}
	Init(" fatal ")
	if got := LevelString(); got != "fatal" {
		t.Fatalf("LevelString() = %q, want %q", got, "fatal")
	}
	Init("nonsense")
	if got := LevelString(); got != "info" {
		t.Fatalf("LevelString() = %q, want %q for unknown input", got, "info")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	orig := logger
	logger = log.New(&buf, "", 0)
	defer func() { logger = orig }()

	Init("warn")
	Debugf("debug-msg")
	Info("info-msg")
	Warnf("warn-msg %d", 1)
	Error("error-msg")

	out := buf.String()
	if strings.Contains(out, "debug-msg") || strings.Contains(out, "info-msg") {
		t.Fatalf("debug/info should be suppressed at warn level: %q", out)
	}
	if !strings.Contains(out, "[WARN] warn-msg 1") {
		t.Fatalf("warn message missing: %q", out)
	}
	if !strings.Contains(out, "[ERROR] error-msg") {
		t.Fatalf("error message missing: %q", out)
	}
	Init("info")
}

func TestSetFileWritesRotatingLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "censo.log")
	SetFile(FileOptions{Path: path, MaxSizeMB: 1, MaxBackups: 1})
	Init("info")
	Infof("record %s saved", "2025-01-01")
	if err := Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), "record 2025-01-01 saved") {
		t.Fatalf("log file missing entry: %q", string(b))
	}
}
