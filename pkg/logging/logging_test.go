package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cyberpulse.log")
	logger, closer := New(Config{Level: "debug", File: path, MaxSizeMB: 1})

	logger.Debug("detector ran", "alerts", 3)
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"detector ran"`) {
		t.Errorf("log file missing entry: %s", data)
	}
}

func TestNew_LevelFilters(t *testing.T) {
	logger, closer := New(Config{Level: "error"})
	defer closer.Close()
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info enabled at error level")
	}
}
