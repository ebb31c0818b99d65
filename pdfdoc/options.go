package pdfdoc

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/drummonds/pdfpage/geometry"
)

// RenderOptions tune a render. A nil field means the option was not given.
type RenderOptions struct {
	// Quality is the JPEG quality, 0 to 100. Defaults to 100.
	Quality *int `json:"quality,omitempty"`
	// Compression is a TIFF compression name such as "deflate" or "lzw".
	Compression *string `json:"compression,omitempty"`
	// Progressive asks for progressive JPEG.
	Progressive *bool `json:"progressive,omitempty"`
	// Slice selects a part of the page. Defaults to the whole page.
	Slice *geometry.Slice `json:"slice,omitempty"`
}

// ParseOptions builds RenderOptions from loosely typed input such as a
// decoded JSON object. Unknown keys are ignored. Values are only type checked
// here; ranges are checked when rendering.
func ParseOptions(in map[string]any) (RenderOptions, error) {
	var opts RenderOptions

	if v, ok := in["quality"]; ok {
		q, ok := asInt(v)
		if !ok || q < 0 {
			return RenderOptions{}, newError(ErrInvalidOption, msgQualityType, nil)
		}
		opts.Quality = &q
	}

	if v, ok := in["compression"]; ok {
		s, ok := v.(string)
		if !ok {
			return RenderOptions{}, newError(ErrInvalidOption, msgCompressionType, nil)
		}
		if s == "" {
			return RenderOptions{}, newError(ErrInvalidOption, msgCompressionEmpty, nil)
		}
		opts.Compression = &s
	}

	if v, ok := in["progressive"]; ok {
		b, ok := v.(bool)
		if !ok {
			return RenderOptions{}, newError(ErrInvalidOption, msgProgressiveType, nil)
		}
		opts.Progressive = &b
	}

	if v, ok := in["slice"]; ok {
		s, err := asSlice(v)
		if err != nil {
			return RenderOptions{}, err
		}
		opts.Slice = &s
	}
	return opts, nil
}

// asInt accepts whole non-fractional numbers of any Go numeric type.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint32:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.Abs(n) > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil || i > math.MaxInt32 || i < math.MinInt32 {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func asSlice(v any) (geometry.Slice, error) {
	switch s := v.(type) {
	case geometry.Slice:
		return s, nil
	case *geometry.Slice:
		if s != nil {
			return *s, nil
		}
	case map[string]any:
		var out geometry.Slice
		fields := []struct {
			key string
			dst *float64
		}{{"x", &out.X}, {"y", &out.Y}, {"w", &out.W}, {"h", &out.H}}
		for _, f := range fields {
			raw, ok := s[f.key]
			if !ok {
				break
			}
			n, ok := asFloat(raw)
			if !ok {
				break
			}
			*f.dst = n
			if f.key == "h" {
				return out, nil
			}
		}
	}
	return geometry.Slice{}, newError(ErrInvalidSlice, msgSliceType, nil)
}

// ParseSlice reads a slice written as "x,y,w,h".
func ParseSlice(s string) (geometry.Slice, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geometry.Slice{}, newError(ErrInvalidSlice, msgSliceType, nil)
	}
	var vals [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geometry.Slice{}, newError(ErrInvalidSlice, msgSliceType, err)
		}
		vals[i] = f
	}
	return geometry.Slice{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}, nil
}

// ParseRects reads annotation rectangles from a decoded JSON value: either a
// single {x1, y1, x2, y2} object or a list of them.
func ParseRects(v any) ([]geometry.RelRect, error) {
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case map[string]any:
		items = []any{t}
	default:
		return nil, newError(ErrInvalidAnnotation, msgAnnotQuadrilateral, nil)
	}

	out := make([]geometry.RelRect, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, newError(ErrInvalidAnnotation, msgAnnotQuadrilateral, nil)
		}
		var vals [4]float64
		for i, key := range [...]string{"x1", "y1", "x2", "y2"} {
			raw, ok := obj[key]
			if !ok {
				return nil, newError(ErrInvalidAnnotation, msgAnnotQuadrilateral, nil)
			}
			f, ok := asFloat(raw)
			if !ok {
				return nil, newError(ErrInvalidAnnotation, msgAnnotCorners, nil)
			}
			vals[i] = f
		}
		out = append(out, geometry.RelRect{X1: vals[0], Y1: vals[1], X2: vals[2], Y2: vals[3]})
	}
	return out, nil
}

// Int, String and Bool return pointers for building RenderOptions literals.
func Int(v int) *int          { return &v }
func String(v string) *string { return &v }
func Bool(v bool) *bool       { return &v }
