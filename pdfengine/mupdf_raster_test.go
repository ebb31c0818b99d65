//go:build cgo

package pdfengine

import (
	"image"
	"testing"

	"github.com/drummonds/pdfpage/geometry"
)

func TestMuPDFRasterize(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping MuPDF render in short mode")
	}
	h, err := NewMuPDFEngine().Open(FromBytes(buildPDF(t, 90)), "", "")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h.Close()
	m, err := h.PageMetrics(1)
	if err != nil {
		t.Fatalf("PageMetrics failed: %v", err)
	}

	size := geometry.PixelSize(572, 299, 72)
	full, err := h.Rasterize(1, size, image.Rect(0, 0, size.X, size.Y))
	if err != nil {
		t.Fatalf("Rasterize failed: %v", err)
	}
	if full.Bounds().Size() != size {
		t.Fatalf("Raster size %v, want %v", full.Bounds().Size(), size)
	}

	hello, err := h.FindText(1, "Hello")
	if err != nil || len(hello) != 1 {
		t.Fatalf("Expected one match, got %v (%v)", hello, err)
	}
	if n := darkPixels(full, pixelRect(hello[0], m, size)); n == 0 {
		t.Error("No ink under the match")
	}
	blank := geometry.AbsRect{X1: 150, Y1: 300, X2: 290, Y2: 450}
	if n := darkPixels(full, pixelRect(blank, m, size)); n != 0 {
		t.Errorf("Found %d dark pixels on an empty part of the page", n)
	}

	region := image.Rect(100, 40, 400, 220)
	part, err := h.Rasterize(1, size, region)
	if err != nil {
		t.Fatalf("Rasterize failed: %v", err)
	}
	if part.Bounds().Size() != region.Size() {
		t.Fatalf("Region raster size %v, want %v", part.Bounds().Size(), region.Size())
	}
	if d := maxChannelDiff(full, part, region); d > 2 {
		t.Errorf("Region differs from the full render by %d", d)
	}
}
