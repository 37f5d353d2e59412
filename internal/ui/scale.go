// Package ui implements the agent's user-interface collaborator: a
// Chrome-driven browser backend and a log-only backend for headless runs.
package ui

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/draw"

	"github.com/haasonsaas/franz/internal/agent"
)

// Default frame size handed to the decision process.
const (
	DefaultFrameWidth  = 536
	DefaultFrameHeight = 364
)

// Downscale decodes a PNG and scales it to exactly width x height. Small
// vision models are tuned for a fixed frame, so the aspect ratio is not
// preserved.
func Downscale(data []byte, width, height int) (agent.Screenshot, error) {
	if width <= 0 || height <= 0 {
		return agent.Screenshot{}, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return agent.Screenshot{}, fmt.Errorf("decode screenshot: %w", err)
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return agent.Screenshot{}, fmt.Errorf("encode screenshot: %w", err)
	}
	return agent.Screenshot{PNG: buf.Bytes(), Width: width, Height: height}, nil
}

// ToPixels maps normalized coordinates onto a viewport.
func ToPixels(x, y, width, height int) (float64, float64) {
	px := float64(x) * float64(width) / agent.CoordinateScale
	py := float64(y) * float64(height) / agent.CoordinateScale
	return px, py
}
