package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dshills/plughost/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewHandlerText(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, config.LoggingConfig{Level: "warn", Format: "text"}))

	logger.Info("hidden")
	logger.Warn("shown", "plugin", "demo")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %q", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "plugin=demo") {
		t.Errorf("output = %q", out)
	}
}

func TestNewHandlerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, config.LoggingConfig{Level: "debug", Format: "JSON"}))
	logger.Debug("enabled", "plugin", "demo")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output %q is not JSON: %v", buf.String(), err)
	}
	if rec["msg"] != "enabled" || rec["plugin"] != "demo" || rec["level"] != "DEBUG" {
		t.Errorf("record = %v", rec)
	}
}

func TestOutputStreams(t *testing.T) {
	for name, want := range map[string]*os.File{"": os.Stderr, "stderr": os.Stderr, "STDOUT": os.Stdout} {
		out := Output(config.LoggingConfig{Output: name})
		nc, ok := out.(nopCloser)
		if !ok || nc.Writer != want {
			t.Errorf("Output(%q) = %#v", name, out)
		}
		if err := out.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "plughost.log")
	cfg := config.Default().Logging
	cfg.Output = path

	logger, closer := New(cfg)
	logger.Info("written to file")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file = %q", data)
	}
}
