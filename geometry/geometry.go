// Package geometry converts between absolute page coordinates (points, as
// stored in the PDF) and relative coordinates (the unit square of the page as
// it is displayed after rotation).
package geometry

import (
	"errors"
	"image"
	"math"
)

// PointsPerInch is the PDF user space unit.
const PointsPerInch = 72.0

// SliceTolerance is how far x+w and y+h may exceed 1 before a slice is rejected.
const SliceTolerance = 1e-9

const pixelEpsilon = 1e-6

// AbsRect is a rectangle in points with a bottom-left origin, expressed in the
// page's unrotated coordinate space.
type AbsRect struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// RelRect is a rectangle relative to the rendered page: 0.5 is the middle of
// the page as a viewer shows it.
type RelRect struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Slice is a relative region of the rendered page, anchored at its bottom-left corner.
type Slice struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// FullSlice covers the whole page.
var FullSlice = Slice{X: 0, Y: 0, W: 1, H: 1}

// Rotation is a clockwise page rotation in degrees.
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// NormalizeRotation maps any /Rotate value onto 0, 90, 180 or 270.
// Values that are not multiples of 90 are rounded down, as PDF readers do.
func NormalizeRotation(deg int) Rotation {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return Rotation(deg - deg%90)
}

// Swapped reports whether the rotation exchanges width and height.
func (r Rotation) Swapped() bool {
	return r == Rotate90 || r == Rotate270
}

// Normalize returns r with its corners ordered so that X1<=X2 and Y1<=Y2.
func (r AbsRect) Normalize() AbsRect {
	if r.X1 > r.X2 {
		r.X1, r.X2 = r.X2, r.X1
	}
	if r.Y1 > r.Y2 {
		r.Y1, r.Y2 = r.Y2, r.Y1
	}
	return r
}

func (r AbsRect) Width() float64  { return r.X2 - r.X1 }
func (r AbsRect) Height() float64 { return r.Y2 - r.Y1 }

// IsZero reports whether every coordinate is zero.
func (r AbsRect) IsZero() bool {
	return r == AbsRect{}
}

// Union returns the smallest rectangle containing both r and o.
func (r AbsRect) Union(o AbsRect) AbsRect {
	return AbsRect{
		X1: math.Min(r.X1, o.X1),
		Y1: math.Min(r.Y1, o.Y1),
		X2: math.Max(r.X2, o.X2),
		Y2: math.Max(r.Y2, o.Y2),
	}
}

// Finite reports whether no coordinate is NaN or infinite.
func (r RelRect) Finite() bool {
	for _, v := range [...]float64{r.X1, r.Y1, r.X2, r.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Normalize returns r with its corners ordered.
func (r RelRect) Normalize() RelRect {
	if r.X1 > r.X2 {
		r.X1, r.X2 = r.X2, r.X1
	}
	if r.Y1 > r.Y2 {
		r.Y1, r.Y2 = r.Y2, r.Y1
	}
	return r
}

// Clamp limits every coordinate to the visible page.
func (r RelRect) Clamp() RelRect {
	return RelRect{
		X1: clamp01(r.X1),
		Y1: clamp01(r.Y1),
		X2: clamp01(r.X2),
		Y2: clamp01(r.Y2),
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// RenderedSize returns the displayed width and height of a page box.
func RenderedSize(box AbsRect, rot Rotation) (width, height float64) {
	w, h := box.Width(), box.Height()
	if rot.Swapped() {
		return h, w
	}
	return w, h
}

// ToRelative maps abs, given in the unrotated space of pageBox, onto the unit
// square of the page as displayed with rotation rot.
//
// A rectangle outside the page box is not an error here; the result simply
// falls outside [0,1].
func ToRelative(abs AbsRect, pageBox AbsRect, rot Rotation) RelRect {
	abs = abs.Normalize()
	pageBox = pageBox.Normalize()
	bw, bh := pageBox.Width(), pageBox.Height()
	if bw <= 0 || bh <= 0 {
		return RelRect{}
	}
	u1 := (abs.X1 - pageBox.X1) / bw
	u2 := (abs.X2 - pageBox.X1) / bw
	v1 := (abs.Y1 - pageBox.Y1) / bh
	v2 := (abs.Y2 - pageBox.Y1) / bh

	switch rot {
	case Rotate90:
		return RelRect{X1: v1, Y1: 1 - u2, X2: v2, Y2: 1 - u1}
	case Rotate180:
		return RelRect{X1: 1 - u2, Y1: 1 - v2, X2: 1 - u1, Y2: 1 - v1}
	case Rotate270:
		return RelRect{X1: 1 - v2, Y1: u1, X2: 1 - v1, Y2: u2}
	default:
		return RelRect{X1: u1, Y1: v1, X2: u2, Y2: v2}
	}
}

// ToAbsolute is the inverse of ToRelative.
func ToAbsolute(rel RelRect, pageBox AbsRect, rot Rotation) AbsRect {
	rel = rel.Normalize()
	pageBox = pageBox.Normalize()
	var u1, u2, v1, v2 float64
	switch rot {
	case Rotate90:
		u1, u2 = 1-rel.Y2, 1-rel.Y1
		v1, v2 = rel.X1, rel.X2
	case Rotate180:
		u1, u2 = 1-rel.X2, 1-rel.X1
		v1, v2 = 1-rel.Y2, 1-rel.Y1
	case Rotate270:
		u1, u2 = rel.Y1, rel.Y2
		v1, v2 = 1-rel.X2, 1-rel.X1
	default:
		u1, u2 = rel.X1, rel.X2
		v1, v2 = rel.Y1, rel.Y2
	}
	bw, bh := pageBox.Width(), pageBox.Height()
	return AbsRect{
		X1: pageBox.X1 + u1*bw,
		Y1: pageBox.Y1 + v1*bh,
		X2: pageBox.X1 + u2*bw,
		Y2: pageBox.Y1 + v2*bh,
	}
}

// ToPixels maps a relative rectangle onto a raster of the given size
// (top-left origin).
func ToPixels(rel RelRect, widthPx, heightPx int) image.Rectangle {
	rel = rel.Normalize()
	return image.Rect(
		int(math.Floor(rel.X1*float64(widthPx))),
		int(math.Floor((1-rel.Y2)*float64(heightPx))),
		int(math.Ceil(rel.X2*float64(widthPx))),
		int(math.Ceil((1-rel.Y1)*float64(heightPx))),
	).Intersect(image.Rect(0, 0, widthPx, heightPx))
}

// PixelSize returns the raster size of a page of the given rendered size in
// points at ppi pixels per inch.
func PixelSize(widthPt, heightPt, ppi float64) image.Point {
	scale := ppi / PointsPerInch
	return image.Pt(
		int(math.Ceil(widthPt*scale-pixelEpsilon)),
		int(math.Ceil(heightPt*scale-pixelEpsilon)),
	)
}

var (
	// ErrSliceRange is returned for slices outside the unit square.
	ErrSliceRange = errors.New("slice outside the unit square")
	// ErrSliceNotFinite is returned for slices with NaN or infinite values.
	ErrSliceNotFinite = errors.New("slice values are not finite")
)

// Validate checks x,y in [0,1), w,h in (0,1], x+w<=1 and y+h<=1.
func (s Slice) Validate() error {
	for _, v := range [...]float64{s.X, s.Y, s.W, s.H} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrSliceNotFinite
		}
	}
	if s.X < 0 || s.X >= 1 || s.Y < 0 || s.Y >= 1 {
		return ErrSliceRange
	}
	if s.W <= 0 || s.W > 1 || s.H <= 0 || s.H > 1 {
		return ErrSliceRange
	}
	if s.X+s.W > 1+SliceTolerance || s.Y+s.H > 1+SliceTolerance {
		return ErrSliceRange
	}
	return nil
}

// SliceToAbsPixels scales a slice into the pixel space of a raster of the
// given size. The slice is already expressed against the rotated page, so no
// rotation is applied. The returned rectangle is never empty for a valid
// slice and non-empty raster.
func SliceToAbsPixels(s Slice, widthPx, heightPx int) image.Rectangle {
	w, h := float64(widthPx), float64(heightPx)
	x0 := int(math.Round(s.X * w))
	x1 := int(math.Round((s.X + s.W) * w))
	y0 := int(math.Round((1 - s.Y - s.H) * h))
	y1 := int(math.Round((1 - s.Y) * h))

	x0, x1 = clampSpan(x0, x1, widthPx)
	y0, y1 = clampSpan(y0, y1, heightPx)
	return image.Rect(x0, y0, x1, y1)
}

func clampSpan(lo, hi, limit int) (int, int) {
	lo = max(0, min(lo, limit))
	hi = max(0, min(hi, limit))
	if hi <= lo && limit > 0 {
		if lo == limit {
			lo--
		}
		hi = lo + 1
	}
	return lo, hi
}
