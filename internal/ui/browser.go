package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/haasonsaas/franz/internal/agent"
	"github.com/haasonsaas/franz/internal/backoff"
)

// BrowserConfig configures the Chrome backend.
type BrowserConfig struct {
	// RemoteURL attaches to a running Chrome (ws://host:9222/...). When
	// empty a local Chrome is launched.
	RemoteURL string

	Headless bool

	// StartURL is opened on start.
	StartURL string

	ViewportWidth  int
	ViewportHeight int

	FrameWidth  int
	FrameHeight int

	// ActionTimeout bounds one input or capture.
	ActionTimeout time.Duration
}

func (c BrowserConfig) withDefaults() BrowserConfig {
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1280
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 800
	}
	if c.FrameWidth <= 0 {
		c.FrameWidth = DefaultFrameWidth
	}
	if c.FrameHeight <= 0 {
		c.FrameHeight = DefaultFrameHeight
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 30 * time.Second
	}
	return c
}

// dragSteps is the number of intermediate mouse moves in a drag.
const dragSteps = 10

// Browser drives a Chrome tab through the DevTools protocol.
type Browser struct {
	cfg    BrowserConfig
	logger *slog.Logger

	ctx     context.Context
	cancels []context.CancelFunc
}

// NewBrowser starts or attaches to Chrome and prepares the viewport.
func NewBrowser(ctx context.Context, cfg BrowserConfig, logger *slog.Logger) (*Browser, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	b := &Browser{cfg: cfg, logger: logger.With("component", "ui", "backend", "browser")}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	}
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	b.ctx = taskCtx
	b.cancels = []context.CancelFunc{taskCancel, allocCancel}

	actions := []chromedp.Action{
		chromedp.EmulateViewport(int64(cfg.ViewportWidth), int64(cfg.ViewportHeight)),
	}
	if cfg.StartURL != "" {
		actions = append(actions, chromedp.Navigate(cfg.StartURL))
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		b.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	b.logger.Info("browser ready", "remote", cfg.RemoteURL != "", "start_url", cfg.StartURL)
	return b, nil
}

// Close shuts the tab and, for launched browsers, Chrome itself.
func (b *Browser) Close() error {
	for _, cancel := range b.cancels {
		cancel()
	}
	b.cancels = nil
	return nil
}

// run executes actions in the tab, bounded by the action timeout and ctx.
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(b.ctx, b.cfg.ActionTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Perform synthesizes one input.
func (b *Browser) Perform(ctx context.Context, a agent.UIAction) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	w, h := b.cfg.ViewportWidth, b.cfg.ViewportHeight

	var action chromedp.Action
	switch a.Op {
	case agent.UIClick:
		x, y := ToPixels(a.X, a.Y, w, h)
		action = chromedp.MouseClickXY(x, y)
	case agent.UIDrag:
		x1, y1 := ToPixels(a.X, a.Y, w, h)
		x2, y2 := ToPixels(a.X2, a.Y2, w, h)
		action = dragAction(x1, y1, x2, y2)
	case agent.UIType:
		action = chromedp.KeyEvent(a.Text)
	case agent.UIKey:
		key, ok := KeyFor(a.Key)
		if !ok {
			return "", fmt.Errorf("unsupported key %q", a.Key)
		}
		action = chromedp.KeyEvent(key)
	case agent.UINavigate:
		action = chromedp.Navigate(a.URL)
	default:
		return "", fmt.Errorf("unsupported ui operation %q", a.Op)
	}

	if err := b.run(ctx, action); err != nil {
		return "", fmt.Errorf("%s: %w", strings.ToLower(a.String()), err)
	}
	b.logger.Debug("ui action", "action", a.String())
	return a.String() + ": OK", nil
}

func dragAction(x1, y1, x2, y2 float64) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := input.DispatchMouseEvent(input.MouseMoved, x1, y1).Do(ctx); err != nil {
			return err
		}
		if err := input.DispatchMouseEvent(input.MousePressed, x1, y1).
			WithButton(input.Left).WithClickCount(1).Do(ctx); err != nil {
			return err
		}
		for i := 1; i <= dragSteps; i++ {
			f := float64(i) / dragSteps
			x := x1 + (x2-x1)*f
			y := y1 + (y2-y1)*f
			if err := input.DispatchMouseEvent(input.MouseMoved, x, y).WithButton(input.Left).Do(ctx); err != nil {
				return err
			}
		}
		return input.DispatchMouseEvent(input.MouseReleased, x2, y2).
			WithButton(input.Left).WithClickCount(1).Do(ctx)
	})
}

// Wait pauses without touching the page.
func (b *Browser) Wait(ctx context.Context, d time.Duration) (string, error) {
	if err := backoff.Sleep(ctx, d); err != nil {
		return "", err
	}
	return fmt.Sprintf("WAIT %d: OK", d.Milliseconds()), nil
}

// Capture screenshots the viewport and scales it to the frame size.
func (b *Browser) Capture(ctx context.Context) (agent.Screenshot, error) {
	var buf []byte
	if err := b.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return agent.Screenshot{}, fmt.Errorf("capture: %w", err)
	}
	if len(buf) == 0 {
		return agent.Screenshot{}, errors.New("capture: empty screenshot")
	}
	return Downscale(buf, b.cfg.FrameWidth, b.cfg.FrameHeight)
}

var keyNames = map[string]string{
	"enter":     kb.Enter,
	"return":    kb.Enter,
	"escape":    kb.Escape,
	"esc":       kb.Escape,
	"tab":       kb.Tab,
	"backspace": kb.Backspace,
	"delete":    kb.Delete,
	"up":        kb.ArrowUp,
	"down":      kb.ArrowDown,
	"left":      kb.ArrowLeft,
	"right":     kb.ArrowRight,
	"home":      kb.Home,
	"end":       kb.End,
	"pageup":    kb.PageUp,
	"pagedown":  kb.PageDown,
	"space":     " ",
}

// KeyFor maps a key name from the command grammar to a chromedp key.
func KeyFor(name string) (string, bool) {
	key, ok := keyNames[strings.ToLower(strings.TrimSpace(name))]
	return key, ok
}
