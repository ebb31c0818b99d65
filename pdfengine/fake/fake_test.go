package fake

import (
	"errors"
	"image"
	"testing"

	"github.com/drummonds/pdfpage/geometry"
	"github.com/drummonds/pdfpage/pdfengine"
)

func TestOpenUnregisteredPDFBytes(t *testing.T) {
	e := New()
	h, err := e.Open(pdfengine.FromBytes([]byte("%PDF-1.4\n...")), "", "")
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	meta := h.Meta()
	if meta.PageCount != 2 || meta.MajorVersion != 1 || meta.MinorVersion != 4 {
		t.Errorf("Unexpected meta %+v", meta)
	}

	if _, err := e.Open(pdfengine.FromBytes([]byte("not a pdf")), "", ""); !errors.Is(err, ErrNotPDF) {
		t.Errorf("Expected ErrNotPDF, got %v", err)
	}
	if _, err := e.Open(pdfengine.FromPath("/does/not/exist.pdf"), "", ""); err == nil {
		t.Error("Expected an error for a missing file")
	}
}

func TestPassword(t *testing.T) {
	e := New()
	spec := SampleDoc()
	spec.Password = "secret"
	e.Add("locked.pdf", spec)

	if _, err := e.Open(pdfengine.FromPath("locked.pdf"), "", ""); !errors.Is(err, pdfengine.ErrNeedsPassword) {
		t.Errorf("Expected ErrNeedsPassword, got %v", err)
	}
	h, err := e.Open(pdfengine.FromPath("locked.pdf"), "", "secret")
	if err != nil {
		t.Fatalf("Owner password rejected: %v", err)
	}
	if !h.Meta().IsEncrypted {
		t.Error("Expected document to report encryption")
	}
}

func TestRegionMatchesFullRender(t *testing.T) {
	e := New()
	h, err := e.Open(pdfengine.FromBytes([]byte("%PDF-1.7\n")), "", "")
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	if err := h.AddHighlights(2, []geometry.AbsRect{{X1: 0, Y1: 0, X2: 100, Y2: 100}}); err != nil {
		t.Fatalf("AddHighlights: %v", err)
	}

	size := image.Pt(572, 299)
	full, err := h.Rasterize(2, size, image.Rect(0, 0, size.X, size.Y))
	if err != nil {
		t.Fatalf("Full render failed: %v", err)
	}
	region := image.Rect(100, 50, 400, 250)
	part, err := h.Rasterize(2, size, region)
	if err != nil {
		t.Fatalf("Region render failed: %v", err)
	}
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			if full.At(x, y) != part.At(x, y) {
				t.Fatalf("Pixel %d,%d differs: full %v region %v", x, y, full.At(x, y), part.At(x, y))
			}
		}
	}
	if calls := e.Calls(); len(calls) != 2 || calls[1].Region != region {
		t.Errorf("Unexpected recorded calls %+v", calls)
	}
}

func TestClosedHandle(t *testing.T) {
	h, err := New().Open(pdfengine.FromBytes([]byte("%PDF-1.7\n")), "", "")
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	h.Close()
	if _, err := h.PageMetrics(1); !errors.Is(err, pdfengine.ErrHandleClosed) {
		t.Errorf("Expected ErrHandleClosed, got %v", err)
	}
}
