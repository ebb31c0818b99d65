package pdfengine

import (
	"errors"
	"image"
	"testing"

	"github.com/drummonds/pdfpage/geometry"
)

// TestPDFiumRotatedPage runs the WebAssembly engine on a generated document
func TestPDFiumRotatedPage(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping PDFium test in short mode")
	}
	engine, err := NewPDFiumEngine()
	if err != nil {
		t.Fatalf("Failed to start PDFium: %v", err)
	}
	defer engine.Close()

	h, err := engine.Open(FromBytes(buildPDF(t, 90)), "", "")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h.Close()

	meta := h.Meta()
	if meta.PageCount != 1 || meta.MajorVersion != 1 || meta.MinorVersion != 7 || meta.IsEncrypted {
		t.Errorf("Unexpected meta %+v", meta)
	}

	m, err := h.PageMetrics(1)
	if err != nil {
		t.Fatalf("PageMetrics failed: %v", err)
	}
	if w, ht := m.Size(); m.Rotate != geometry.Rotate90 || w != 572 || ht != 299 {
		t.Errorf("Expected a rotated 572x299 page, got %vx%v at %d", w, ht, m.Rotate)
	}
	if m.Boxes.Media != (geometry.AbsRect{X2: 299, Y2: 572}) || m.Boxes.Crop != m.Boxes.Media {
		t.Errorf("Unexpected boxes %+v", m.Boxes)
	}
	if m.NumAnnots != 1 {
		t.Errorf("Expected the text annotation, got %d annotations", m.NumAnnots)
	}

	t.Run("Text", func(t *testing.T) {
		hello, err := h.FindText(1, "Hello")
		if err != nil || len(hello) != 1 {
			t.Fatalf("Expected one match, got %v (%v)", hello, err)
		}
		r := hello[0]
		if r.X1 < 18 || r.X1 > 22 || r.X2 < 65 || r.X2 > 80 || r.Y1 < 494 || r.Y1 > 504 || r.Y2 < 510 || r.Y2 > 526 {
			t.Errorf("Match %+v is not where the text was drawn", r)
		}
		words, err := h.WordList(1)
		if err != nil || len(words) != 2 || words[0].Text != "Hello" || words[1].Text != "World" {
			t.Fatalf("Unexpected words %+v (%v)", words, err)
		}
		if words[1].Rect.X1 <= words[0].Rect.X2 {
			t.Errorf("Words overlap: %+v", words)
		}
		if none, err := h.FindText(1, "Goodbye"); err != nil || len(none) != 0 {
			t.Errorf("Expected no matches, got %v (%v)", none, err)
		}
	})

	size := geometry.PixelSize(572, 299, 72)
	full, err := h.Rasterize(1, size, image.Rect(0, 0, size.X, size.Y))
	if err != nil {
		t.Fatalf("Rasterize failed: %v", err)
	}
	if full.Bounds().Size() != size {
		t.Fatalf("Raster size %v, want %v", full.Bounds().Size(), size)
	}

	t.Run("Matches cover the rendered ink", func(t *testing.T) {
		hello, _ := h.FindText(1, "Hello")
		if n := darkPixels(full, pixelRect(hello[0], m, size)); n == 0 {
			t.Error("No ink under the match")
		}
		blank := geometry.AbsRect{X1: 150, Y1: 300, X2: 290, Y2: 450}
		if n := darkPixels(full, pixelRect(blank, m, size)); n != 0 {
			t.Errorf("Found %d dark pixels on an empty part of the page", n)
		}
	})

	t.Run("Full slice equals a render without slice", func(t *testing.T) {
		region := geometry.SliceToAbsPixels(geometry.FullSlice, size.X, size.Y)
		if region != full.Bounds() {
			t.Fatalf("Full slice maps to %v, want %v", region, full.Bounds())
		}
		again, err := h.Rasterize(1, size, region)
		if err != nil {
			t.Fatalf("Rasterize failed: %v", err)
		}
		if d := maxChannelDiff(full, again, region); d != 0 {
			t.Errorf("Full slice render differs by %d", d)
		}
	})

	t.Run("Region equals the same pixels of a full render", func(t *testing.T) {
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
	})

	t.Run("Highlights leave other annotations alone", func(t *testing.T) {
		for round, rects := range [][]geometry.AbsRect{
			{{X1: 20, Y1: 500, X2: 75, Y2: 518}, {X1: 80, Y1: 500, X2: 150, Y2: 518}},
			{{X1: 20, Y1: 500, X2: 150, Y2: 518}},
		} {
			if err := h.AddHighlights(1, rects); err != nil {
				t.Fatalf("AddHighlights failed: %v", err)
			}
			m, _ := h.PageMetrics(1)
			if m.NumAnnots != 1+len(rects) {
				t.Errorf("round %d: expected %d annotations after adding, got %d", round, 1+len(rects), m.NumAnnots)
			}
			if err := h.DeleteHighlights(1); err != nil {
				t.Fatalf("DeleteHighlights failed: %v", err)
			}
			m, _ = h.PageMetrics(1)
			if m.NumAnnots != 1 {
				t.Errorf("round %d: expected the text annotation to survive, got %d annotations", round, m.NumAnnots)
			}
		}
	})

	t.Run("Page range", func(t *testing.T) {
		if _, err := h.PageMetrics(2); !errors.Is(err, ErrPageRange) {
			t.Errorf("Expected ErrPageRange, got %v", err)
		}
	})
}

func TestPDFiumClosedHandle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping PDFium test in short mode")
	}
	engine, err := NewPDFiumEngine()
	if err != nil {
		t.Fatalf("Failed to start PDFium: %v", err)
	}
	defer engine.Close()

	if _, err := engine.Open(FromBytes([]byte("not a pdf")), "", ""); err == nil {
		t.Error("Expected an error opening garbage")
	}
	h, err := engine.Open(FromBytes(buildPDF(t, 0)), "", "")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := h.FindText(1, "Hello"); !errors.Is(err, ErrHandleClosed) {
		t.Errorf("Expected ErrHandleClosed, got %v", err)
	}
}
