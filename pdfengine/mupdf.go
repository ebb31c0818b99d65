package pdfengine

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"

	"github.com/drummonds/pdfpage/geometry"
)

func init() {
	Register("mupdf", func() (Engine, error) { return NewMuPDFEngine(), nil })
}

// MuPDFEngine reads document structure and text with ledongthuc/pdf and
// rasterizes with MuPDF through go-fitz (requires CGo). MuPDF cannot write
// annotations here, so highlights are kept in memory and painted over the
// raster.
type MuPDFEngine struct{}

// NewMuPDFEngine creates the engine. It holds no global state.
func NewMuPDFEngine() *MuPDFEngine {
	return &MuPDFEngine{}
}

func (e *MuPDFEngine) Name() string { return "mupdf" }

// Capabilities: a MuPDF render holds the handle lock for its whole duration,
// so renders are deferred onto a single loop instead of fanned out.
func (e *MuPDFEngine) Capabilities() Capabilities {
	return Capabilities{NativeAsync: false}
}

func (e *MuPDFEngine) Open(src Source, userPassword, ownerPassword string) (Handle, error) {
	data, err := readSource(src)
	if err != nil {
		return nil, err
	}

	var pw func() string
	if candidates := nonEmpty(userPassword, ownerPassword); len(candidates) > 0 {
		pw = func() string {
			if len(candidates) == 0 {
				return ""
			}
			next := candidates[0]
			candidates = candidates[1:]
			return next
		}
	}
	reader, err := pdf.NewReaderEncrypted(bytes.NewReader(data), int64(len(data)), pw)
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) {
			return nil, ErrNeedsPassword
		}
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}

	h := &mupdfHandle{
		data:       data,
		reader:     reader,
		highlights: map[int][]geometry.AbsRect{},
	}
	h.meta.PageCount = reader.NumPage()
	h.meta.IsEncrypted = !reader.Trailer().Key("Encrypt").IsNull()
	if major, minor, linearized, ok := SniffHeader(data); ok {
		h.meta.MajorVersion, h.meta.MinorVersion = major, minor
		h.meta.IsLinearized = linearized
	}
	Logger.Debug("MuPDF opened document", "source", src.String(), "pages", h.meta.PageCount)
	return h, nil
}

func (e *MuPDFEngine) Close() error { return nil }

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

type mupdfHandle struct {
	mu     sync.Mutex
	data   []byte
	reader *pdf.Reader
	// raster is opened on first render
	raster     *fitz.Document
	meta       DocumentMeta
	highlights map[int][]geometry.AbsRect
	closed     bool
}

func (h *mupdfHandle) Meta() DocumentMeta { return h.meta }

func (h *mupdfHandle) lock() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHandleClosed
	}
	return nil
}

// pageValue returns the page dictionary. Callers hold mu.
func (h *mupdfHandle) pageValue(num int) (pdf.Page, error) {
	if err := checkPage(num, h.meta.PageCount); err != nil {
		return pdf.Page{}, err
	}
	p := h.reader.Page(num)
	if p.V.IsNull() {
		return pdf.Page{}, fmt.Errorf("page %d not found in page tree", num)
	}
	return p, nil
}

// inherited looks key up on the page and then on its ancestors in the page tree.
func inherited(v pdf.Value, key string) pdf.Value {
	for depth := 0; depth < 64 && !v.IsNull(); depth++ {
		if k := v.Key(key); !k.IsNull() {
			return k
		}
		v = v.Key("Parent")
	}
	return pdf.Value{}
}

func boxOf(v pdf.Value) geometry.AbsRect {
	if v.Len() != 4 {
		return geometry.AbsRect{}
	}
	return geometry.AbsRect{
		X1: v.Index(0).Float64(),
		Y1: v.Index(1).Float64(),
		X2: v.Index(2).Float64(),
		Y2: v.Index(3).Float64(),
	}.Normalize()
}

func (h *mupdfHandle) metrics(num int) (PageMetrics, error) {
	p, err := h.pageValue(num)
	if err != nil {
		return PageMetrics{}, err
	}
	b := Boxes{
		Media: boxOf(inherited(p.V, "MediaBox")),
		Crop:  boxOf(inherited(p.V, "CropBox")),
		Art:   boxOf(p.V.Key("ArtBox")),
		Trim:  boxOf(p.V.Key("TrimBox")),
		Bleed: boxOf(p.V.Key("BleedBox")),
	}
	if b.Media.IsZero() {
		b.Media = letter
	}
	return PageMetrics{
		Rotate:    geometry.NormalizeRotation(int(inherited(p.V, "Rotate").Int64())),
		Boxes:     b.Resolve(),
		NumAnnots: p.V.Key("Annots").Len() + len(h.highlights[num]),
	}, nil
}

func (h *mupdfHandle) PageMetrics(num int) (PageMetrics, error) {
	if err := h.lock(); err != nil {
		return PageMetrics{}, err
	}
	defer h.mu.Unlock()
	return h.metrics(num)
}

// glyphs extracts the text layer of a page.
func (h *mupdfHandle) glyphs(num int) (glyphs []Glyph, err error) {
	p, err := h.pageValue(num)
	if err != nil {
		return nil, err
	}
	defer func() {
		// the content stream interpreter panics on malformed input
		if r := recover(); r != nil {
			glyphs, err = nil, fmt.Errorf("unable to read text of page %d: %v", num, r)
		}
	}()
	return layoutGlyphs(p.Content().Text), nil
}

// layoutGlyphs turns the text runs reported by ledongthuc/pdf into glyph
// boxes. ledongthuc/pdf reports one entry per shown glyph without separators,
// so spaces and line breaks are synthesized from gaps. Fonts without a /Widths
// array, usually the standard 14, come back with a zero advance and every
// glyph at the same x; their widths are estimated from the font size.
func layoutGlyphs(text []pdf.Text) []Glyph {
	var glyphs []Glyph
	var prev *pdf.Text
	// end of the previous run on the current line
	var cursor float64
	for i := range text {
		t := text[i]
		x := t.X
		if prev != nil {
			size := math.Max(prev.FontSize, 1)
			switch {
			case math.Abs(t.Y-prev.Y) > size/2:
				glyphs = append(glyphs, Glyph{Rune: '\n'})
			case t.W <= 0 && x < cursor:
				x = cursor
			case x-cursor > size*0.2:
				glyphs = append(glyphs, Glyph{Rune: ' '})
			}
		}
		runes := []rune(t.S)
		width := t.W
		if width <= 0 {
			width = estimatedAdvance(t.Font, t.FontSize) * float64(len(runes))
		}
		step := width / float64(max(len(runes), 1))
		for j, r := range runes {
			gx := x + float64(j)*step
			glyphs = append(glyphs, Glyph{
				Rune: r,
				Rect: geometry.AbsRect{X1: gx, Y1: t.Y, X2: gx + step, Y2: t.Y + t.FontSize},
			})
		}
		cursor = x + width
		prev = &text[i]
	}
	return glyphs
}

// estimatedAdvance is the average glyph advance of a font in points. Courier
// is monospaced at 600 units; 500 is close to the proportional fonts' average.
func estimatedAdvance(font string, size float64) float64 {
	if strings.Contains(font, "Courier") {
		return size * 0.6
	}
	return size * 0.5
}

func (h *mupdfHandle) FindText(num int, text string) ([]geometry.AbsRect, error) {
	if err := h.lock(); err != nil {
		return nil, err
	}
	defer h.mu.Unlock()
	glyphs, err := h.glyphs(num)
	if err != nil {
		return nil, err
	}
	return FindInGlyphs(glyphs, text), nil
}

func (h *mupdfHandle) WordList(num int) ([]Word, error) {
	if err := h.lock(); err != nil {
		return nil, err
	}
	defer h.mu.Unlock()
	glyphs, err := h.glyphs(num)
	if err != nil {
		return nil, err
	}
	return GroupWords(glyphs), nil
}

func (h *mupdfHandle) AddHighlights(num int, rects []geometry.AbsRect) error {
	if err := h.lock(); err != nil {
		return err
	}
	defer h.mu.Unlock()
	if err := checkPage(num, h.meta.PageCount); err != nil {
		return err
	}
	for _, r := range rects {
		h.highlights[num] = append(h.highlights[num], r.Normalize())
	}
	return nil
}

func (h *mupdfHandle) DeleteHighlights(num int) error {
	if err := h.lock(); err != nil {
		return err
	}
	defer h.mu.Unlock()
	if err := checkPage(num, h.meta.PageCount); err != nil {
		return err
	}
	delete(h.highlights, num)
	return nil
}

// Rasterize renders the full page with MuPDF, scales it to the exact target
// size and crops the region.
func (h *mupdfHandle) Rasterize(num int, size image.Point, region image.Rectangle) (image.Image, error) {
	if region.Empty() {
		return nil, fmt.Errorf("empty render region %v", region)
	}
	if err := h.lock(); err != nil {
		return nil, err
	}
	defer h.mu.Unlock()

	m, err := h.metrics(num)
	if err != nil {
		return nil, err
	}
	if h.raster == nil {
		doc, err := fitz.NewFromMemory(h.data)
		if err != nil {
			if errors.Is(err, fitz.ErrNeedsPassword) {
				return nil, ErrNeedsPassword
			}
			return nil, fmt.Errorf("unable to open PDF for rendering: %w", err)
		}
		h.raster = doc
	}

	widthPt, _ := m.Size()
	dpi := float64(size.X) * geometry.PointsPerInch / widthPt
	full, err := h.raster.ImageDPI(num-1, dpi)
	if err != nil {
		return nil, fmt.Errorf("unable to render page %d: %w", num, err)
	}

	var img image.Image = full
	if full.Bounds().Size() != size {
		img = imaging.Resize(full, size.X, size.Y, imaging.Lanczos)
	}
	img = DrawHighlights(img, m.Boxes.Crop, m.Rotate, h.highlights[num])
	return imaging.Crop(img, region), nil
}

func (h *mupdfHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.reader = nil
	h.data = nil
	if h.raster != nil {
		if err := h.raster.Close(); err != nil {
			return fmt.Errorf("unable to close PDF document: %w", err)
		}
		h.raster = nil
	}
	return nil
}
