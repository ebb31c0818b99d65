package pdfdoc

import (
	"fmt"

	"github.com/drummonds/pdfpage/geometry"
	"github.com/drummonds/pdfpage/pdfengine"
)

// Page is one page of a Document. Rotation and page boxes are read once;
// annotation counts are read live.
type Page struct {
	doc    *Document
	num    int
	rotate geometry.Rotation
	boxes  pdfengine.Boxes
}

// Word is a text token with its relative bounding box.
type Word struct {
	geometry.RelRect
	Text string `json:"text"`
}

// PageInfo is a snapshot of the page attributes.
type PageInfo struct {
	Num       int              `json:"num"`
	Width     float64          `json:"width"`
	Height    float64          `json:"height"`
	Rotate    int              `json:"rotate"`
	IsCropped bool             `json:"isCropped"`
	NumAnnots int              `json:"numAnnots"`
	MediaBox  geometry.AbsRect `json:"media_box"`
	CropBox   geometry.AbsRect `json:"crop_box"`
	ArtBox    geometry.AbsRect `json:"art_box"`
	TrimBox   geometry.AbsRect `json:"trim_box"`
	BleedBox  geometry.AbsRect `json:"bleed_box"`
}

// acquire holds the document open for the duration of an operation. The
// returned func releases it.
func (p *Page) acquire() (func(), error) {
	p.doc.mu.RLock()
	if p.doc.closed {
		p.doc.mu.RUnlock()
		return nil, closedError()
	}
	return p.doc.mu.RUnlock, nil
}

// Num is available even after the document is closed.
func (p *Page) Num() int { return p.num }

// Document returns the owning document.
func (p *Page) Document() *Document { return p.doc }

func (p *Page) size() (float64, float64) {
	return geometry.RenderedSize(p.boxes.Crop, p.rotate)
}

// Width is the width of the crop box as displayed, in points.
func (p *Page) Width() (float64, error) {
	release, err := p.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	w, _ := p.size()
	return w, nil
}

// Height is the height of the crop box as displayed, in points.
func (p *Page) Height() (float64, error) {
	release, err := p.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	_, h := p.size()
	return h, nil
}

// Rotate is the page rotation in degrees, one of 0, 90, 180 and 270.
func (p *Page) Rotate() (geometry.Rotation, error) {
	release, err := p.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	return p.rotate, nil
}

// IsCropped reports whether the crop box differs from the media box.
func (p *Page) IsCropped() (bool, error) {
	release, err := p.acquire()
	if err != nil {
		return false, err
	}
	defer release()
	return p.boxes.Crop != p.boxes.Media, nil
}

// NumAnnots counts the annotations on the page, including highlights added
// through AddAnnot.
func (p *Page) NumAnnots() (int, error) {
	release, err := p.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	return p.numAnnots()
}

func (p *Page) numAnnots() (int, error) {
	m, err := p.doc.handle.PageMetrics(p.num)
	if err != nil {
		return 0, fmt.Errorf("unable to read page %d: %w", p.num, err)
	}
	return m.NumAnnots, nil
}

func (p *Page) box(pick func(pdfengine.Boxes) geometry.AbsRect) (geometry.AbsRect, error) {
	release, err := p.acquire()
	if err != nil {
		return geometry.AbsRect{}, err
	}
	defer release()
	return pick(p.boxes), nil
}

// MediaBox returns the page's physical extent. It and the other boxes are in
// the unrotated page space.
func (p *Page) MediaBox() (geometry.AbsRect, error) {
	return p.box(func(b pdfengine.Boxes) geometry.AbsRect { return b.Media })
}

// CropBox returns the visible region, the media box when the page has none.
// Width, Height and relative coordinates are measured against it.
func (p *Page) CropBox() (geometry.AbsRect, error) {
	return p.box(func(b pdfengine.Boxes) geometry.AbsRect { return b.Crop })
}

// ArtBox returns the extent of the meaningful content, the crop box when unset.
func (p *Page) ArtBox() (geometry.AbsRect, error) {
	return p.box(func(b pdfengine.Boxes) geometry.AbsRect { return b.Art })
}

// TrimBox returns the intended finished page size, the crop box when unset.
func (p *Page) TrimBox() (geometry.AbsRect, error) {
	return p.box(func(b pdfengine.Boxes) geometry.AbsRect { return b.Trim })
}

// BleedBox returns the clipping region for production output, the crop box when unset.
func (p *Page) BleedBox() (geometry.AbsRect, error) {
	return p.box(func(b pdfengine.Boxes) geometry.AbsRect { return b.Bleed })
}

// Info returns every page attribute at once.
func (p *Page) Info() (PageInfo, error) {
	release, err := p.acquire()
	if err != nil {
		return PageInfo{}, err
	}
	defer release()

	annots, err := p.numAnnots()
	if err != nil {
		return PageInfo{}, err
	}
	w, h := p.size()
	return PageInfo{
		Num:       p.num,
		Width:     w,
		Height:    h,
		Rotate:    int(p.rotate),
		IsCropped: p.boxes.Crop != p.boxes.Media,
		NumAnnots: annots,
		MediaBox:  p.boxes.Media,
		CropBox:   p.boxes.Crop,
		ArtBox:    p.boxes.Art,
		TrimBox:   p.boxes.Trim,
		BleedBox:  p.boxes.Bleed,
	}, nil
}

func (p *Page) toRelative(r geometry.AbsRect) geometry.RelRect {
	return geometry.ToRelative(r, p.boxes.Crop, p.rotate).Clamp()
}

// FindText returns the relative rectangles of every occurrence of text, one
// per text line. No match gives an empty slice.
func (p *Page) FindText(text string) ([]geometry.RelRect, error) {
	release, err := p.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	found, err := p.doc.handle.FindText(p.num, text)
	if err != nil {
		return nil, err
	}
	out := make([]geometry.RelRect, 0, len(found))
	for _, r := range found {
		out = append(out, p.toRelative(r))
	}
	Logger.Debug("Searched page", "page", p.num, "text", text, "matches", len(out))
	return out, nil
}

// WordList returns the words on the page in the engine's reading order.
func (p *Page) WordList() ([]Word, error) {
	release, err := p.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	words, err := p.doc.handle.WordList(p.num)
	if err != nil {
		return nil, err
	}
	out := make([]Word, 0, len(words))
	for _, w := range words {
		if w.Text == "" {
			continue
		}
		out = append(out, Word{RelRect: p.toRelative(w.Rect), Text: w.Text})
	}
	return out, nil
}

// AddAnnot adds one highlight annotation per rectangle. Rectangles are
// relative to the page as displayed.
func (p *Page) AddAnnot(rects ...geometry.RelRect) error {
	release, err := p.acquire()
	if err != nil {
		return err
	}
	defer release()
	if len(rects) == 0 {
		return nil
	}

	abs := make([]geometry.AbsRect, 0, len(rects))
	for _, r := range rects {
		if !r.Finite() {
			return newError(ErrInvalidAnnotation, msgAnnotCorners, nil)
		}
		abs = append(abs, geometry.ToAbsolute(r, p.boxes.Crop, p.rotate))
	}
	if err := p.doc.handle.AddHighlights(p.num, abs); err != nil {
		return err
	}
	Logger.Debug("Added highlights", "page", p.num, "count", len(abs))
	return nil
}

// DeleteAnnots removes every highlight added through AddAnnot and leaves
// other annotations alone.
func (p *Page) DeleteAnnots() error {
	release, err := p.acquire()
	if err != nil {
		return err
	}
	defer release()
	return p.doc.handle.DeleteHighlights(p.num)
}
