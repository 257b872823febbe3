package frame

import (
	"errors"
	"image"
	"image/color"
	"testing"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestCombine_ConcatenatesAlongWidthInOrder(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}
	const w, h = 4, 3

	out, err := Combine([]image.Image{solid(w, h, red), solid(w, h, blue)})
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if b := out.Bounds(); b.Dx() != 2*w || b.Dy() != h {
		t.Fatalf("bounds: got %v want %dx%d", b, 2*w, h)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < 2*w; x++ {
			want := red
			if x >= w {
				want = blue
			}
			if got := out.RGBAAt(x, y); got != want {
				t.Fatalf("pixel (%d,%d): got %v want %v", x, y, got, want)
			}
		}
	}
}

func TestCombine_SingleSourceIsCopied(t *testing.T) {
	src := solid(2, 2, color.RGBA{G: 9, A: 255})
	out, err := Combine([]image.Image{src})
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	src.SetRGBA(0, 0, color.RGBA{})
	if out.RGBAAt(0, 0).G != 9 {
		t.Fatalf("output aliases its source")
	}
}

func TestCombine_HandlesOffsetBounds(t *testing.T) {
	src := solid(6, 2, color.RGBA{R: 1, A: 255}).SubImage(image.Rect(3, 0, 6, 2))
	out, err := Combine([]image.Image{src, solid(1, 2, color.RGBA{R: 2, A: 255})})
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if out.Bounds().Dx() != 4 || out.RGBAAt(0, 0).R != 1 || out.RGBAAt(3, 1).R != 2 {
		t.Fatalf("unexpected layout: bounds=%v", out.Bounds())
	}
}

func TestCombine_RejectsMismatchedHeights(t *testing.T) {
	_, err := Combine([]image.Image{solid(2, 2, color.RGBA{}), solid(2, 3, color.RGBA{})})
	if !errors.Is(err, ErrHeightMismatch) {
		t.Fatalf("expected ErrHeightMismatch, got %v", err)
	}
}

func TestCombine_RejectsEmptyInput(t *testing.T) {
	if _, err := Combine(nil); !errors.Is(err, ErrNoFrames) {
		t.Fatalf("expected ErrNoFrames, got %v", err)
	}
}
