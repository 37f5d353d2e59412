package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := LogLevelFromString(tt.in); got != tt.want {
			t.Errorf("LogLevelFromString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("shown", "cycle", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered: %s", out)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &rec); err != nil {
		t.Fatalf("output is not one JSON record: %v (%s)", err, out)
	}
	if rec["msg"] != "shown" || rec["cycle"] != float64(3) {
		t.Errorf("record = %v", rec)
	}
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := NewLogger(LogConfig{Format: "text", Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Info("cycle finished", "status", "ok")
	if !strings.Contains(buf.String(), "status=ok") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestLoggerRedaction(t *testing.T) {
	tests := []struct {
		name   string
		log    func(*slog.Logger)
		secret string
	}{
		{
			name:   "openai key in message",
			log:    func(l *slog.Logger) { l.Info("using sk-abcdefghijklmnopqrstuvwxyz0123456789ABCD") },
			secret: "sk-abcdefghijklmnopqrstuvwxyz0123456789ABCD",
		},
		{
			name:   "sensitive key",
			log:    func(l *slog.Logger) { l.Info("config", "api_key", "short") },
			secret: "short",
		},
		{
			name:   "password in attribute",
			log:    func(l *slog.Logger) { l.Info("login", "detail", "password=hunter2hunter2") },
			secret: "hunter2hunter2",
		},
		{
			name:   "error value",
			log:    func(l *slog.Logger) { l.Error("failed", "error", errors.New("bearer abcdefghijklmnopqrstuvwxyz")) },
			secret: "abcdefghijklmnopqrstuvwxyz",
		},
		{
			name:   "group",
			log:    func(l *slog.Logger) { l.Info("aws", slog.Group("creds", "secret_access_key", "wJalrXUtnFEMI")) },
			secret: "wJalrXUtnFEMI",
		},
		{
			name:   "with attrs",
			log:    func(l *slog.Logger) { l.With("token", "tok-123").Info("hello") },
			secret: "tok-123",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, _, err := NewLogger(LogConfig{Format: "json", Output: &buf})
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			tt.log(logger)
			if strings.Contains(buf.String(), tt.secret) {
				t.Errorf("secret leaked: %s", buf.String())
			}
			if !strings.Contains(buf.String(), redacted) {
				t.Errorf("expected %s marker: %s", redacted, buf.String())
			}
		})
	}
}

func TestLoggerCustomPattern(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := NewLogger(LogConfig{Output: &buf, RedactPatterns: []string{`acct-\d+`}})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Info("account acct-4242")
	if strings.Contains(buf.String(), "acct-4242") {
		t.Errorf("custom pattern not applied: %s", buf.String())
	}

	if _, _, err := NewLogger(LogConfig{RedactPatterns: []string{"("}}); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestLoggerFileFanout(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "franz.log")
	logger, closer, err := NewLogger(LogConfig{Format: "text", Output: &buf, File: path})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Info("both sinks", "cycle", 1)
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if !strings.Contains(buf.String(), "both sinks") {
		t.Errorf("primary output = %q", buf.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		t.Fatalf("file record is not JSON: %v (%s)", err, data)
	}
	if rec["msg"] != "both sinks" {
		t.Errorf("file record = %v", rec)
	}
}
