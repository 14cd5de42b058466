package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerToFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown", "address", "203.0.113.9")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record leaked: %s", out)
	}
	if !strings.Contains(out, `"address":"203.0.113.9"`) {
		t.Fatalf("expected JSON attribute, got %s", out)
	}
}
