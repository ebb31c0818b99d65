package pdfengine

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"testing"

	"github.com/drummonds/pdfpage/geometry"
)

// buildPDF writes a one page PDF 1.7 file: a 299x572 media box rotated by
// rotate degrees, "Hello World" in 24pt Helvetica at (20, 500) and a text
// annotation at (200, 20). Helvetica has no /Widths array, as is common for
// the standard 14 fonts.
func buildPDF(t *testing.T, rotate int) []byte {
	t.Helper()
	content := "BT /F1 24 Tf 20 500 Td (Hello World) Tj ET"
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 299 572] /Rotate %d "+
			"/Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R /Annots [6 0 R] >>", rotate),
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		"<< /Type /Annot /Subtype /Text /Rect [200 20 220 40] /Contents (note) >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

// pixelRect maps a user space rectangle onto a raster of the rendered page.
func pixelRect(r geometry.AbsRect, m PageMetrics, size image.Point) image.Rectangle {
	return geometry.ToPixels(geometry.ToRelative(r, m.Boxes.Crop, m.Rotate), size.X, size.Y)
}

// darkPixels counts pixels inside r darker than mid grey.
func darkPixels(img image.Image, r image.Rectangle) int {
	n := 0
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			if g.Y < 128 {
				n++
			}
		}
	}
	return n
}

// maxChannelDiff is the largest per channel difference between the pixels of
// full inside region and part, which holds exactly those pixels wherever its
// bounds start.
func maxChannelDiff(full, part image.Image, region image.Rectangle) uint32 {
	off := part.Bounds().Min.Sub(region.Min)
	var worst uint32
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			r1, g1, b1, _ := full.At(x, y).RGBA()
			r2, g2, b2, _ := part.At(x+off.X, y+off.Y).RGBA()
			for _, d := range [...]uint32{absDiff(r1, r2), absDiff(g1, g2), absDiff(b1, b2)} {
				worst = max(worst, d>>8)
			}
		}
	}
	return worst
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
