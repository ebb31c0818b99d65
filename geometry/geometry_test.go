package geometry

import (
	"image"
	"math"
	"testing"
	"testing/quick"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestNormalizeRotation(t *testing.T) {
	tests := map[int]Rotation{
		0: Rotate0, 90: Rotate90, 180: Rotate180, 270: Rotate270,
		360: Rotate0, 450: Rotate90, -90: Rotate270, -180: Rotate180, 100: Rotate90,
	}
	for in, want := range tests {
		if got := NormalizeRotation(in); got != want {
			t.Errorf("NormalizeRotation(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestRenderedSize(t *testing.T) {
	box := AbsRect{X1: 0, Y1: 0, X2: 299, Y2: 572}
	w, h := RenderedSize(box, Rotate90)
	if w != 572 || h != 299 {
		t.Errorf("Expected 572x299 for a 90 degree page, got %vx%v", w, h)
	}
	w, h = RenderedSize(box, Rotate180)
	if w != 299 || h != 572 {
		t.Errorf("Expected 299x572 for a 180 degree page, got %vx%v", w, h)
	}
}

func TestToRelativeKnownCorners(t *testing.T) {
	// bottom-left quarter of an unrotated page
	box := AbsRect{X1: 0, Y1: 0, X2: 200, Y2: 400}
	abs := AbsRect{X1: 0, Y1: 0, X2: 100, Y2: 200}

	tests := []struct {
		rot  Rotation
		want RelRect
	}{
		// 90 clockwise: the bottom-left quarter moves to the top-left.
		{Rotate0, RelRect{X1: 0, Y1: 0, X2: 0.5, Y2: 0.5}},
		{Rotate90, RelRect{X1: 0, Y1: 0.5, X2: 0.5, Y2: 1}},
		{Rotate180, RelRect{X1: 0.5, Y1: 0.5, X2: 1, Y2: 1}},
		{Rotate270, RelRect{X1: 0.5, Y1: 0, X2: 1, Y2: 0.5}},
	}
	for _, tt := range tests {
		got := ToRelative(abs, box, tt.rot)
		if diff := cmp.Diff(tt.want, got, approx); diff != "" {
			t.Errorf("rotation %d mismatch (-want +got):\n%s", tt.rot, diff)
		}
	}
}

func TestToRelativeOffsetCropBox(t *testing.T) {
	box := AbsRect{X1: 50, Y1: 100, X2: 150, Y2: 300}
	got := ToRelative(AbsRect{X1: 50, Y1: 100, X2: 150, Y2: 300}, box, Rotate0)
	if diff := cmp.Diff(RelRect{X1: 0, Y1: 0, X2: 1, Y2: 1}, got, approx); diff != "" {
		t.Errorf("crop box offset not applied (-want +got):\n%s", diff)
	}
}

func TestToRelativeOutsidePageIsAccepted(t *testing.T) {
	box := AbsRect{X2: 100, Y2: 100}
	got := ToRelative(AbsRect{X1: 150, Y1: 150, X2: 200, Y2: 200}, box, Rotate0)
	if got.X1 != 1.5 || got.Y2 != 2 {
		t.Errorf("Expected out-of-page coordinates to pass through, got %+v", got)
	}
	if c := got.Clamp(); c != (RelRect{X1: 1, Y1: 1, X2: 1, Y2: 1}) {
		t.Errorf("Clamp = %+v", c)
	}
}

func TestRotationRoundTrip(t *testing.T) {
	rotations := []Rotation{Rotate0, Rotate90, Rotate180, Rotate270}
	property := func(a, b, c, d, bw, bh, ox, oy uint16, ri uint8) bool {
		box := AbsRect{
			X1: float64(ox),
			Y1: float64(oy),
			X2: float64(ox) + float64(bw%2000) + 1,
			Y2: float64(oy) + float64(bh%2000) + 1,
		}
		abs := AbsRect{
			X1: box.X1 + float64(a%1000)/1000*box.Width(),
			Y1: box.Y1 + float64(b%1000)/1000*box.Height(),
			X2: box.X1 + float64(c%1000)/1000*box.Width(),
			Y2: box.Y1 + float64(d%1000)/1000*box.Height(),
		}.Normalize()
		rot := rotations[int(ri)%len(rotations)]
		back := ToAbsolute(ToRelative(abs, box, rot), box, rot)
		return cmp.Equal(abs, back, cmpopts.EquateApprox(0, 1e-6))
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 2000}); err != nil {
		t.Error(err)
	}
}

func TestSliceValidate(t *testing.T) {
	valid := []Slice{
		FullSlice,
		{X: 0.5, Y: 0.5, W: 0.5, H: 0.5},
		{X: 0.1, Y: 0.2, W: 0.3, H: 0.4},
		{X: 0.7, Y: 0, W: 0.3 + SliceTolerance/2, H: 1},
	}
	for _, s := range valid {
		if err := s.Validate(); err != nil {
			t.Errorf("Expected %+v to be valid, got %v", s, err)
		}
	}

	invalid := []Slice{
		{X: 0, Y: 0, W: 1, H: 1.1},
		{X: -0.1, Y: 0, W: 0.5, H: 0.5},
		{X: 1, Y: 0, W: 0.5, H: 0.5},
		{X: 0, Y: 0, W: 0, H: 0.5},
		{X: 0.6, Y: 0, W: 0.5, H: 0.5},
		{X: 0, Y: 0.6, W: 0.5, H: 0.5},
		{X: math.NaN(), Y: 0, W: 0.5, H: 0.5},
		{X: 0, Y: 0, W: math.Inf(1), H: 0.5},
	}
	for _, s := range invalid {
		if err := s.Validate(); err == nil {
			t.Errorf("Expected %+v to be rejected", s)
		}
	}
}

func TestSliceToAbsPixels(t *testing.T) {
	tests := []struct {
		name  string
		slice Slice
		w, h  int
		want  image.Rectangle
	}{
		{"full page", FullSlice, 100, 200, image.Rect(0, 0, 100, 200)},
		{"bottom half", Slice{X: 0, Y: 0, W: 1, H: 0.5}, 100, 200, image.Rect(0, 100, 100, 200)},
		{"top right quarter", Slice{X: 0.5, Y: 0.5, W: 0.5, H: 0.5}, 100, 200, image.Rect(50, 0, 100, 100)},
		{"tiny slice stays non-empty", Slice{X: 0.999, Y: 0, W: 0.0001, H: 0.0001}, 10, 10, image.Rect(9, 9, 10, 10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SliceToAbsPixels(tt.slice, tt.w, tt.h)
			if got != tt.want {
				t.Errorf("SliceToAbsPixels = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPixelSize(t *testing.T) {
	if got := PixelSize(572, 299, 72); got != image.Pt(572, 299) {
		t.Errorf("PixelSize at 72ppi = %v", got)
	}
	if got := PixelSize(572, 299, 50); got != image.Pt(398, 208) {
		t.Errorf("PixelSize at 50ppi = %v", got)
	}
	if got := PixelSize(612, 792, 144); got != image.Pt(1224, 1584) {
		t.Errorf("PixelSize at 144ppi = %v", got)
	}
}

func TestToPixels(t *testing.T) {
	got := ToPixels(RelRect{X1: 0, Y1: 0.5, X2: 0.5, Y2: 1}, 100, 100)
	if got != image.Rect(0, 0, 50, 50) {
		t.Errorf("ToPixels = %v", got)
	}
	got = ToPixels(RelRect{X1: -1, Y1: -1, X2: 2, Y2: 2}, 100, 100)
	if got != image.Rect(0, 0, 100, 100) {
		t.Errorf("ToPixels should clip to the raster, got %v", got)
	}
}
