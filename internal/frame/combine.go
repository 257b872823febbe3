// Package frame builds output video frames out of per-camera images.
package frame

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
)

var (
	ErrNoFrames       = errors.New("frame: no source images")
	ErrHeightMismatch = errors.New("frame: source heights differ")
)

// Combine concatenates images left to right in the given order. Every source must have
// the same height; widths may differ.
func Combine(srcs []image.Image) (*image.RGBA, error) {
	if len(srcs) == 0 {
		return nil, ErrNoFrames
	}
	height, width := 0, 0
	for i, src := range srcs {
		if src == nil {
			return nil, fmt.Errorf("frame: source %d is nil", i)
		}
		b := src.Bounds()
		if i == 0 {
			height = b.Dy()
		}
		if b.Dy() != height {
			return nil, fmt.Errorf("%w: source %d is %d rows, source 0 is %d", ErrHeightMismatch, i, b.Dy(), height)
		}
		width += b.Dx()
	}

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	x := 0
	for _, src := range srcs {
		b := src.Bounds()
		draw.Draw(out, image.Rect(x, 0, x+b.Dx(), height), src, b.Min, draw.Src)
		x += b.Dx()
	}
	return out, nil
}
