package ui

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/franz/internal/agent"
	"github.com/haasonsaas/franz/internal/backoff"
)

// Log is a UI that performs nothing and records what it was asked to do.
// It lets the loop run where no display is available; captures are empty.
type Log struct {
	logger *slog.Logger

	mu      sync.Mutex
	history []string
}

// NewLog builds a log-only backend.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "ui", "backend", "log")}
}

// Perform validates and records the action.
func (l *Log) Perform(_ context.Context, a agent.UIAction) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	l.record(a.String())
	return a.String() + ": OK (not performed, no display)", nil
}

// Wait sleeps for d.
func (l *Log) Wait(ctx context.Context, d time.Duration) (string, error) {
	if err := backoff.Sleep(ctx, d); err != nil {
		return "", err
	}
	line := fmt.Sprintf("WAIT %d", d.Milliseconds())
	l.record(line)
	return line + ": OK", nil
}

// Capture returns an empty frame.
func (l *Log) Capture(context.Context) (agent.Screenshot, error) {
	return agent.Screenshot{}, nil
}

// History returns the recorded actions in order.
func (l *Log) History() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.history...)
}

// Close is a no-op.
func (l *Log) Close() error { return nil }

func (l *Log) record(line string) {
	l.mu.Lock()
	l.history = append(l.history, line)
	l.mu.Unlock()
	l.logger.Info("ui action", "action", line)
}

// Backend is a UI collaborator that owns resources.
type Backend interface {
	agent.UI
	io.Closer
}

// Config selects and configures a backend.
type Config struct {
	// Backend is "browser" or "log".
	Backend string
	Browser BrowserConfig
}

// New builds the configured backend.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Backend, error) {
	switch cfg.Backend {
	case "", "log":
		return NewLog(logger), nil
	case "browser":
		b, err := NewBrowser(ctx, cfg.Browser, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown ui backend %q", cfg.Backend)
}
