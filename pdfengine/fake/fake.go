// Package fake is an in-memory PDF engine with deterministic output. Pages are
// described by DocSpec values instead of being parsed, and rasterization paints
// word boxes black and highlights green on white so that any region of a page
// is pixel-identical to the same region of a full render.
package fake

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"sync"
	"time"

	"github.com/drummonds/pdfpage/geometry"
	"github.com/drummonds/pdfpage/pdfengine"
)

func init() {
	pdfengine.Register("fake", func() (pdfengine.Engine, error) { return New(), nil })
}

// ErrNotPDF is returned when an unregistered source does not start with a PDF header.
var ErrNotPDF = errors.New("fake: not a PDF file")

var (
	ink        = color.RGBA{A: 0xFF}
	paper      = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	highlight  = color.RGBA{G: 0xFF, A: 0xFF}
	letterSize = geometry.AbsRect{X2: 612, Y2: 792}
)

// PageSpec describes one page.
type PageSpec struct {
	Rotate int
	Boxes  pdfengine.Boxes
	Words  []pdfengine.Word
	// Annots counts annotations already present in the file.
	Annots int
}

// DocSpec describes a document.
type DocSpec struct {
	Meta  pdfengine.DocumentMeta
	Pages []PageSpec
	// Password, when set, must be given as user or owner password.
	Password string
}

// RasterizeCall records one Rasterize invocation.
type RasterizeCall struct {
	Num    int
	Size   image.Point
	Region image.Rectangle
}

// Engine is the fake engine.
type Engine struct {
	mu    sync.Mutex
	docs  map[string]DocSpec
	calls []RasterizeCall

	// NativeAsync is reported through Capabilities.
	NativeAsync bool
	// RenderDelay is slept inside every Rasterize call.
	RenderDelay time.Duration
	// RenderErr, when set, is returned by every Rasterize call.
	RenderErr error
	// RenderPanic, when set, makes Rasterize panic with this value.
	RenderPanic any
}

// New returns an engine with no registered documents. Unregistered sources
// that look like a PDF open as SampleDoc.
func New() *Engine {
	return &Engine{docs: map[string]DocSpec{}}
}

// Add registers spec under a file path.
func (e *Engine) Add(path string, spec DocSpec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.docs["path:"+path] = spec
}

// AddBytes registers spec for an in-memory source with exactly these bytes.
func (e *Engine) AddBytes(data []byte, spec DocSpec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.docs["data:"+string(data)] = spec
}

// Calls returns the Rasterize calls made so far.
func (e *Engine) Calls() []RasterizeCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]RasterizeCall(nil), e.calls...)
}

func (e *Engine) Name() string { return "fake" }

func (e *Engine) Capabilities() pdfengine.Capabilities {
	return pdfengine.Capabilities{NativeAsync: e.NativeAsync}
}

func (e *Engine) Close() error { return nil }

func (e *Engine) lookup(src pdfengine.Source) (DocSpec, error) {
	e.mu.Lock()
	spec, ok := e.docs["path:"+src.Path]
	if !ok && src.Data != nil {
		spec, ok = e.docs["data:"+string(src.Data)]
	}
	e.mu.Unlock()
	if ok && (src.Path != "" || src.Data != nil) {
		return spec, nil
	}

	data := src.Data
	if data == nil {
		if src.Path == "" {
			return DocSpec{}, pdfengine.ErrEmptySource
		}
		var err error
		if data, err = os.ReadFile(src.Path); err != nil {
			return DocSpec{}, fmt.Errorf("unable to read PDF file: %w", err)
		}
	}
	major, minor, linearized, ok := pdfengine.SniffHeader(data)
	if !ok {
		return DocSpec{}, ErrNotPDF
	}
	spec = SampleDoc()
	spec.Meta.MajorVersion, spec.Meta.MinorVersion = major, minor
	spec.Meta.IsLinearized = linearized
	return spec, nil
}

func (e *Engine) Open(src pdfengine.Source, userPassword, ownerPassword string) (pdfengine.Handle, error) {
	spec, err := e.lookup(src)
	if err != nil {
		return nil, err
	}
	if spec.Password != "" && userPassword != spec.Password && ownerPassword != spec.Password {
		return nil, pdfengine.ErrNeedsPassword
	}
	spec.Meta.PageCount = len(spec.Pages)
	if spec.Password != "" {
		spec.Meta.IsEncrypted = true
	}
	return &handle{engine: e, spec: spec, highlights: map[int][]geometry.AbsRect{}}, nil
}

// SampleDoc is a two page letter document: an upright page with two words and
// a landscape page rotated by 90 degrees.
func SampleDoc() DocSpec {
	return DocSpec{
		Meta: pdfengine.DocumentMeta{MajorVersion: 1, MinorVersion: 7},
		Pages: []PageSpec{
			{
				Boxes: pdfengine.Boxes{Media: letterSize},
				Words: []pdfengine.Word{
					{Rect: geometry.AbsRect{X1: 72, Y1: 700, X2: 130, Y2: 712}, Text: "Hello"},
					{Rect: geometry.AbsRect{X1: 136, Y1: 700, X2: 190, Y2: 712}, Text: "World"},
				},
			},
			{
				Rotate: 90,
				Boxes:  pdfengine.Boxes{Media: geometry.AbsRect{X2: 299, Y2: 572}},
				Words: []pdfengine.Word{
					{Rect: geometry.AbsRect{X1: 20, Y1: 500, X2: 80, Y2: 512}, Text: "Rotated"},
				},
				Annots: 1,
			},
		},
	}
}

type handle struct {
	mu         sync.Mutex
	engine     *Engine
	spec       DocSpec
	highlights map[int][]geometry.AbsRect
	closed     bool
}

func (h *handle) Meta() pdfengine.DocumentMeta { return h.spec.Meta }

// page locks the handle and returns the page spec.
func (h *handle) page(num int) (PageSpec, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return PageSpec{}, pdfengine.ErrHandleClosed
	}
	if num < 1 || num > len(h.spec.Pages) {
		h.mu.Unlock()
		return PageSpec{}, fmt.Errorf("%w: %d of %d", pdfengine.ErrPageRange, num, len(h.spec.Pages))
	}
	return h.spec.Pages[num-1], nil
}

func metricsOf(p PageSpec, highlights int) pdfengine.PageMetrics {
	b := p.Boxes
	if b.Media.IsZero() {
		b.Media = letterSize
	}
	return pdfengine.PageMetrics{
		Rotate:    geometry.NormalizeRotation(p.Rotate),
		Boxes:     b.Resolve(),
		NumAnnots: p.Annots + highlights,
	}
}

func (h *handle) PageMetrics(num int) (pdfengine.PageMetrics, error) {
	p, err := h.page(num)
	if err != nil {
		return pdfengine.PageMetrics{}, err
	}
	defer h.mu.Unlock()
	return metricsOf(p, len(h.highlights[num])), nil
}

func (h *handle) glyphs(p PageSpec) []pdfengine.Glyph {
	var out []pdfengine.Glyph
	for i, w := range p.Words {
		if i > 0 {
			out = append(out, pdfengine.Glyph{Rune: ' '})
		}
		runes := []rune(w.Text)
		step := w.Rect.Width() / float64(max(len(runes), 1))
		for j, r := range runes {
			x := w.Rect.X1 + float64(j)*step
			out = append(out, pdfengine.Glyph{
				Rune: r,
				Rect: geometry.AbsRect{X1: x, Y1: w.Rect.Y1, X2: x + step, Y2: w.Rect.Y2},
			})
		}
	}
	return out
}

func (h *handle) FindText(num int, text string) ([]geometry.AbsRect, error) {
	p, err := h.page(num)
	if err != nil {
		return nil, err
	}
	defer h.mu.Unlock()
	return pdfengine.FindInGlyphs(h.glyphs(p), text), nil
}

func (h *handle) WordList(num int) ([]pdfengine.Word, error) {
	p, err := h.page(num)
	if err != nil {
		return nil, err
	}
	defer h.mu.Unlock()
	return append([]pdfengine.Word(nil), p.Words...), nil
}

func (h *handle) AddHighlights(num int, rects []geometry.AbsRect) error {
	if _, err := h.page(num); err != nil {
		return err
	}
	defer h.mu.Unlock()
	for _, r := range rects {
		h.highlights[num] = append(h.highlights[num], r.Normalize())
	}
	return nil
}

func (h *handle) DeleteHighlights(num int) error {
	if _, err := h.page(num); err != nil {
		return err
	}
	defer h.mu.Unlock()
	delete(h.highlights, num)
	return nil
}

// Highlights returns the highlights currently on a page of an open fake handle.
func Highlights(hd pdfengine.Handle, num int) []geometry.AbsRect {
	h, ok := hd.(*handle)
	if !ok {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]geometry.AbsRect(nil), h.highlights[num]...)
}

func (h *handle) Rasterize(num int, size image.Point, region image.Rectangle) (image.Image, error) {
	p, err := h.page(num)
	if err != nil {
		return nil, err
	}
	highlights := append([]geometry.AbsRect(nil), h.highlights[num]...)
	h.mu.Unlock()

	e := h.engine
	e.mu.Lock()
	e.calls = append(e.calls, RasterizeCall{Num: num, Size: size, Region: region})
	e.mu.Unlock()

	if e.RenderDelay > 0 {
		time.Sleep(e.RenderDelay)
	}
	if e.RenderPanic != nil {
		panic(e.RenderPanic)
	}
	if e.RenderErr != nil {
		return nil, e.RenderErr
	}
	if region.Empty() || !region.In(image.Rect(0, 0, size.X, size.Y)) {
		return nil, fmt.Errorf("fake: region %v outside page %v", region, size)
	}

	m := metricsOf(p, 0)
	img := image.NewRGBA(region)
	draw.Draw(img, region, image.NewUniform(paper), image.Point{}, draw.Src)
	paint := func(r geometry.AbsRect, c color.Color) {
		px := geometry.ToPixels(geometry.ToRelative(r, m.Boxes.Crop, m.Rotate), size.X, size.Y).Intersect(region)
		draw.Draw(img, px, image.NewUniform(c), image.Point{}, draw.Src)
	}
	for _, w := range p.Words {
		paint(w.Rect, ink)
	}
	for _, r := range highlights {
		paint(r, highlight)
	}
	return img, nil
}

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}
