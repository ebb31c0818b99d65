package pdfengine

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/drummonds/pdfpage/geometry"
)

// HighlightColor is the colour of highlight annotations, green at half opacity.
var HighlightColor = color.NRGBA{R: 0, G: 255, B: 0, A: 128}

// DrawHighlights paints highlight rectangles over a full-page raster of a page
// with the given crop box and rotation. Engines without annotation support use
// it so that highlights still show up in rendered output.
func DrawHighlights(img image.Image, box geometry.AbsRect, rot geometry.Rotation, rects []geometry.AbsRect) *image.NRGBA {
	out := imaging.Clone(img)
	if len(rects) == 0 {
		return out
	}
	w, h := out.Bounds().Dx(), out.Bounds().Dy()
	solid := color.NRGBA{R: HighlightColor.R, G: HighlightColor.G, B: HighlightColor.B, A: 255}
	opacity := float64(HighlightColor.A) / 255
	for _, r := range rects {
		px := geometry.ToPixels(geometry.ToRelative(r, box, rot), w, h)
		if px.Empty() {
			continue
		}
		out = imaging.Overlay(out, imaging.New(px.Dx(), px.Dy(), solid), px.Min, opacity)
	}
	return out
}
