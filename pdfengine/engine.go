// Package pdfengine is the boundary to the native PDF libraries that parse,
// search and rasterize documents. Everything above it works with the Engine
// and Handle interfaces only.
package pdfengine

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"

	"github.com/drummonds/pdfpage/geometry"
)

// Logger is global since we will need it everywhere
var Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Errors shared by every adapter.
var (
	ErrPageRange     = errors.New("pdfengine: page number out of range")
	ErrNeedsPassword = errors.New("pdfengine: document is encrypted")
	ErrHandleClosed  = errors.New("pdfengine: document handle is closed")
	ErrEmptySource   = errors.New("pdfengine: no path or data given")
)

// Source is where a document comes from. Exactly one of Path and Data is set.
type Source struct {
	Path string
	Data []byte
}

// FromPath returns a Source reading the file at path.
func FromPath(path string) Source { return Source{Path: path} }

// FromBytes returns a Source over an in-memory PDF.
func FromBytes(data []byte) Source { return Source{Data: data} }

func (s Source) String() string {
	if s.Path != "" {
		return s.Path
	}
	return fmt.Sprintf("<memory %d bytes>", len(s.Data))
}

// Capabilities describe what an engine build can do. They are fixed for the
// lifetime of the engine.
type Capabilities struct {
	// NativeAsync is set when rendering may run off the caller's goroutine
	// without blocking other pending engine work.
	NativeAsync bool `json:"nativeAsync"`
}

// DocumentMeta is read once when the document is opened.
type DocumentMeta struct {
	IsLinearized bool `json:"isLinearized"`
	IsEncrypted  bool `json:"isEncrypted"`
	MajorVersion int  `json:"majorVersion"`
	MinorVersion int  `json:"minorVersion"`
	PageCount    int  `json:"pageCount"`
}

// Boxes are the page boundaries in unrotated user space.
type Boxes struct {
	Media geometry.AbsRect `json:"media_box"`
	Crop  geometry.AbsRect `json:"crop_box"`
	Art   geometry.AbsRect `json:"art_box"`
	Trim  geometry.AbsRect `json:"trim_box"`
	Bleed geometry.AbsRect `json:"bleed_box"`
}

// Resolve fills missing boxes with their PDF defaults: the crop box falls back
// to the media box, the others to the crop box.
func (b Boxes) Resolve() Boxes {
	b.Media = b.Media.Normalize()
	if b.Crop.IsZero() {
		b.Crop = b.Media
	}
	b.Crop = b.Crop.Normalize()
	if b.Art.IsZero() {
		b.Art = b.Crop
	}
	if b.Trim.IsZero() {
		b.Trim = b.Crop
	}
	if b.Bleed.IsZero() {
		b.Bleed = b.Crop
	}
	b.Art, b.Trim, b.Bleed = b.Art.Normalize(), b.Trim.Normalize(), b.Bleed.Normalize()
	return b
}

// PageMetrics describe one page.
type PageMetrics struct {
	Rotate    geometry.Rotation
	Boxes     Boxes
	NumAnnots int
}

// Size returns the rendered (rotation-adjusted) page size in points.
func (m PageMetrics) Size() (width, height float64) {
	return geometry.RenderedSize(m.Boxes.Crop, m.Rotate)
}

// IsCropped reports whether the crop box differs from the media box.
func (m PageMetrics) IsCropped() bool {
	return m.Boxes.Crop != m.Boxes.Media
}

// Word is a text token in unrotated user space.
type Word struct {
	Rect geometry.AbsRect
	Text string
}

// Engine opens documents.
type Engine interface {
	Name() string
	Capabilities() Capabilities
	Open(src Source, userPassword, ownerPassword string) (Handle, error)
	Close() error
}

// Handle is one open document. Page numbers are 1-based. Implementations
// serialize access to engine state themselves.
type Handle interface {
	Meta() DocumentMeta
	PageMetrics(num int) (PageMetrics, error)
	// FindText returns one rectangle per text line of every match.
	FindText(num int, text string) ([]geometry.AbsRect, error)
	// WordList returns the words of a page in reading order.
	WordList(num int) ([]Word, error)
	// AddHighlights creates one highlight annotation per rectangle.
	AddHighlights(num int, rects []geometry.AbsRect) error
	// DeleteHighlights removes the highlights created through AddHighlights,
	// leaving every other annotation in place.
	DeleteHighlights(num int) error
	// Rasterize renders the page at size pixels (rotation applied) and returns
	// an image of region's size holding only the pixels inside region.
	Rasterize(num int, size image.Point, region image.Rectangle) (image.Image, error)
	Close() error
}

// Constructor builds an Engine.
type Constructor func() (Engine, error)

var registry = map[string]Constructor{}

// Register makes an engine available to New under name.
func Register(name string, c Constructor) {
	registry[name] = c
}

// New creates the engine registered under name.
func New(name string) (Engine, error) {
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown PDF engine %q", name)
	}
	Logger.Info("Initializing PDF engine", "engine", name)
	return c()
}

// checkPage validates a 1-based page number.
func checkPage(num, count int) error {
	if num < 1 || num > count {
		return fmt.Errorf("%w: %d of %d", ErrPageRange, num, count)
	}
	return nil
}
