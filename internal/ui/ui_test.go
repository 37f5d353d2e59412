package ui

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/chromedp/kb"

	"github.com/haasonsaas/franz/internal/agent"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDownscale(t *testing.T) {
	shot, err := Downscale(testPNG(t, 1280, 800), DefaultFrameWidth, DefaultFrameHeight)
	if err != nil {
		t.Fatalf("Downscale() error = %v", err)
	}
	if shot.Width != 536 || shot.Height != 364 {
		t.Errorf("size = %dx%d", shot.Width, shot.Height)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(shot.PNG))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if cfg.Width != 536 || cfg.Height != 364 {
		t.Errorf("encoded size = %dx%d", cfg.Width, cfg.Height)
	}

	if _, err := Downscale([]byte("not a png"), 10, 10); err == nil {
		t.Error("expected decode error")
	}
	if _, err := Downscale(testPNG(t, 4, 4), 0, 10); err == nil {
		t.Error("expected size error")
	}
}

func TestToPixels(t *testing.T) {
	tests := []struct {
		x, y   int
		px, py float64
	}{
		{0, 0, 0, 0},
		{500, 500, 640, 400},
		{1000, 1000, 1280, 800},
		{250, 100, 320, 80},
	}
	for _, tt := range tests {
		px, py := ToPixels(tt.x, tt.y, 1280, 800)
		if px != tt.px || py != tt.py {
			t.Errorf("ToPixels(%d, %d) = (%v, %v), want (%v, %v)", tt.x, tt.y, px, py, tt.px, tt.py)
		}
	}
}

func TestKeyFor(t *testing.T) {
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"enter", kb.Enter, true},
		{" Escape ", kb.Escape, true},
		{"TAB", kb.Tab, true},
		{"pagedown", kb.PageDown, true},
		{"hyper", "", false},
	}
	for _, tt := range tests {
		got, ok := KeyFor(tt.name)
		if ok != tt.ok || got != tt.want {
			t.Errorf("KeyFor(%q) = %q, %v", tt.name, got, ok)
		}
	}
}

func TestLogBackend(t *testing.T) {
	l := NewLog(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	text, err := l.Perform(ctx, agent.UIAction{Op: agent.UIClick, X: 10, Y: 20})
	if err != nil {
		t.Fatalf("Perform() error = %v", err)
	}
	if !strings.HasPrefix(text, "CLICK 10 20: OK") {
		t.Errorf("Perform() = %q", text)
	}
	if _, err := l.Perform(ctx, agent.UIAction{Op: agent.UIType}); err == nil {
		t.Error("expected validation error")
	}
	if _, err := l.Wait(ctx, time.Millisecond); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	shot, err := l.Capture(ctx)
	if err != nil || !shot.Empty() {
		t.Errorf("Capture() = %+v, %v", shot, err)
	}
	if got := strings.Join(l.History(), "|"); got != "CLICK 10 20|WAIT 1" {
		t.Errorf("History() = %q", got)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := l.Wait(cancelled, time.Hour); err == nil {
		t.Error("Wait() should stop on cancel")
	}
}

func TestNewBackend(t *testing.T) {
	b, err := New(context.Background(), Config{Backend: "log"}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := b.(*Log); !ok {
		t.Errorf("New() = %T, want *Log", b)
	}
	if _, err := New(context.Background(), Config{Backend: "vnc"}, nil); err == nil {
		t.Error("expected error for unknown backend")
	}
}

// Requires a local Chrome; set FRANZ_CHROME_TESTS=1 to run.
func TestBrowserCapture(t *testing.T) {
	if os.Getenv("FRANZ_CHROME_TESTS") == "" {
		t.Skip("FRANZ_CHROME_TESTS not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	b, err := NewBrowser(ctx, BrowserConfig{Headless: true, StartURL: "about:blank"}, nil)
	if err != nil {
		t.Fatalf("NewBrowser() error = %v", err)
	}
	defer b.Close()

	if _, err := b.Perform(ctx, agent.UIAction{Op: agent.UIClick, X: 500, Y: 500}); err != nil {
		t.Fatalf("Perform() error = %v", err)
	}
	shot, err := b.Capture(ctx)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if shot.Width != DefaultFrameWidth || shot.Height != DefaultFrameHeight {
		t.Errorf("frame = %dx%d", shot.Width, shot.Height)
	}
}
