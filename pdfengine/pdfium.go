package pdfengine

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/enums"
	pdfium_errors "github.com/klippa-app/go-pdfium/errors"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/structs"
	"github.com/klippa-app/go-pdfium/webassembly"

	"github.com/drummonds/pdfpage/geometry"
)

// PDFiumInstanceTimeout bounds the wait for the WebAssembly instance.
var PDFiumInstanceTimeout = 30 * time.Second

// letter is used when a page has no usable media box.
var letter = geometry.AbsRect{X2: 612, Y2: 792}

func init() {
	Register("pdfium", func() (Engine, error) { return NewPDFiumEngine() })
}

// PDFiumEngine runs PDFium compiled to WebAssembly (pure Go, no CGo). A single
// instance is shared by every document, guarded by mu.
type PDFiumEngine struct {
	mu       sync.Mutex
	pool     pdfium.Pool
	instance pdfium.Pdfium
}

// NewPDFiumEngine starts the WebAssembly runtime.
func NewPDFiumEngine() (*PDFiumEngine, error) {
	// One worker: the instance is not reentrant and every call goes through mu.
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  1,
		MaxTotal: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PDFium WebAssembly: %w", err)
	}

	instance, err := pool.GetInstance(PDFiumInstanceTimeout)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to get PDFium instance: %w", err)
	}

	return &PDFiumEngine{
		pool:     pool,
		instance: instance,
	}, nil
}

func (e *PDFiumEngine) Name() string { return "pdfium" }

// Capabilities: every call is serialized by the engine mutex, so renders can
// run on background goroutines without stalling each other's bookkeeping.
func (e *PDFiumEngine) Capabilities() Capabilities {
	return Capabilities{NativeAsync: true}
}

// Open loads a document, trying the user password first and then the owner password.
func (e *PDFiumEngine) Open(src Source, userPassword, ownerPassword string) (Handle, error) {
	data, err := readSource(src)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.instance == nil {
		return nil, ErrHandleClosed
	}

	doc, err := e.openWithPasswords(data, userPassword, ownerPassword)
	if err != nil {
		return nil, err
	}

	h := &pdfiumHandle{
		engine:     e,
		doc:        doc,
		pages:      map[int]references.FPDF_PAGE{},
		highlights: map[int]int{},
	}
	if err := h.readMeta(data); err != nil {
		e.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: doc})
		return nil, err
	}
	Logger.Debug("PDFium opened document", "source", src.String(), "pages", h.meta.PageCount)
	return h, nil
}

func (e *PDFiumEngine) openWithPasswords(data []byte, passwords ...string) (references.FPDF_DOCUMENT, error) {
	var lastErr error
	tried := map[string]bool{}
	for _, pw := range append([]string{""}, passwords...) {
		if tried[pw] {
			continue
		}
		tried[pw] = true
		req := &requests.OpenDocument{File: &data}
		if pw != "" {
			password := pw
			req.Password = &password
		}
		doc, err := e.instance.OpenDocument(req)
		if err == nil {
			return doc.Document, nil
		}
		if !errors.Is(err, pdfium_errors.ErrPassword) {
			return "", fmt.Errorf("unable to open PDF document: %w", err)
		}
		lastErr = err
	}
	Logger.Debug("PDFium rejected every password", "error", lastErr)
	return "", ErrNeedsPassword
}

// Close shuts the WebAssembly runtime down. Handles opened from this engine
// become unusable.
func (e *PDFiumEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pool != nil {
		e.pool.Close()
		e.pool = nil
	}
	e.instance = nil
	return nil
}

type pdfiumHandle struct {
	engine *PDFiumEngine
	doc    references.FPDF_DOCUMENT
	meta   DocumentMeta
	// loaded pages, keyed by 1-based number
	pages map[int]references.FPDF_PAGE
	// highlights created through AddHighlights, per page; they are always the
	// last annotations of the page
	highlights map[int]int
	closed     bool
}

func (h *pdfiumHandle) inst() pdfium.Pdfium { return h.engine.instance }

func (h *pdfiumHandle) readMeta(data []byte) error {
	count, err := h.inst().FPDF_GetPageCount(&requests.FPDF_GetPageCount{Document: h.doc})
	if err != nil {
		return fmt.Errorf("unable to get page count: %w", err)
	}
	h.meta.PageCount = count.PageCount

	major, minor, linearized, ok := SniffHeader(data)
	if version, err := h.inst().FPDF_GetFileVersion(&requests.FPDF_GetFileVersion{Document: h.doc}); err == nil {
		major, minor = version.FileVersion/10, version.FileVersion%10
	} else if !ok {
		major, minor = 1, 0
	}
	h.meta.MajorVersion, h.meta.MinorVersion = major, minor
	h.meta.IsLinearized = linearized

	if sec, err := h.inst().FPDF_GetSecurityHandlerRevision(&requests.FPDF_GetSecurityHandlerRevision{Document: h.doc}); err == nil {
		h.meta.IsEncrypted = sec.SecurityHandlerRevision != -1
	}
	return nil
}

// lock takes the engine mutex and checks that the handle is still usable.
func (h *pdfiumHandle) lock() error {
	h.engine.mu.Lock()
	if h.closed || h.engine.instance == nil {
		h.engine.mu.Unlock()
		return ErrHandleClosed
	}
	return nil
}

func (h *pdfiumHandle) unlock() { h.engine.mu.Unlock() }

// page returns a loaded page reference. Callers hold the engine mutex.
func (h *pdfiumHandle) page(num int) (requests.Page, error) {
	if err := checkPage(num, h.meta.PageCount); err != nil {
		return requests.Page{}, err
	}
	ref, ok := h.pages[num]
	if !ok {
		loaded, err := h.inst().FPDF_LoadPage(&requests.FPDF_LoadPage{Document: h.doc, Index: num - 1})
		if err != nil {
			return requests.Page{}, fmt.Errorf("unable to load page %d: %w", num, err)
		}
		ref = loaded.Page
		h.pages[num] = ref
	}
	return requests.Page{ByReference: &ref}, nil
}

func (h *pdfiumHandle) Meta() DocumentMeta { return h.meta }

func (h *pdfiumHandle) PageMetrics(num int) (PageMetrics, error) {
	if err := h.lock(); err != nil {
		return PageMetrics{}, err
	}
	defer h.unlock()

	page, err := h.page(num)
	if err != nil {
		return PageMetrics{}, err
	}
	inst := h.inst()

	var m PageMetrics
	if rot, err := inst.FPDFPage_GetRotation(&requests.FPDFPage_GetRotation{Page: page}); err == nil {
		m.Rotate = geometry.NormalizeRotation(int(rot.PageRotation) * 90)
	}

	var b Boxes
	if r, err := inst.FPDFPage_GetMediaBox(&requests.FPDFPage_GetMediaBox{Page: page}); err == nil {
		b.Media = rectOf(r.Left, r.Bottom, r.Right, r.Top)
	}
	if r, err := inst.FPDFPage_GetCropBox(&requests.FPDFPage_GetCropBox{Page: page}); err == nil {
		b.Crop = rectOf(r.Left, r.Bottom, r.Right, r.Top)
	}
	if r, err := inst.FPDFPage_GetArtBox(&requests.FPDFPage_GetArtBox{Page: page}); err == nil {
		b.Art = rectOf(r.Left, r.Bottom, r.Right, r.Top)
	}
	if r, err := inst.FPDFPage_GetTrimBox(&requests.FPDFPage_GetTrimBox{Page: page}); err == nil {
		b.Trim = rectOf(r.Left, r.Bottom, r.Right, r.Top)
	}
	if r, err := inst.FPDFPage_GetBleedBox(&requests.FPDFPage_GetBleedBox{Page: page}); err == nil {
		b.Bleed = rectOf(r.Left, r.Bottom, r.Right, r.Top)
	}
	if b.Media.IsZero() {
		b.Media = letter
	}
	m.Boxes = b.Resolve()

	count, err := inst.FPDFPage_GetAnnotCount(&requests.FPDFPage_GetAnnotCount{Page: page})
	if err != nil {
		return PageMetrics{}, fmt.Errorf("unable to count annotations: %w", err)
	}
	m.NumAnnots = count.Count
	return m, nil
}

func rectOf(left, bottom, right, top float32) geometry.AbsRect {
	return geometry.AbsRect{
		X1: float64(left),
		Y1: float64(bottom),
		X2: float64(right),
		Y2: float64(top),
	}.Normalize()
}

// glyphs reads the text layer of a page. Callers hold the engine mutex.
func (h *pdfiumHandle) glyphs(num int) ([]Glyph, error) {
	page, err := h.page(num)
	if err != nil {
		return nil, err
	}
	inst := h.inst()
	text, err := inst.FPDFText_LoadPage(&requests.FPDFText_LoadPage{Page: page})
	if err != nil {
		return nil, fmt.Errorf("unable to load text of page %d: %w", num, err)
	}
	defer inst.FPDFText_ClosePage(&requests.FPDFText_ClosePage{TextPage: text.TextPage})

	count, err := inst.FPDFText_CountChars(&requests.FPDFText_CountChars{TextPage: text.TextPage})
	if err != nil {
		return nil, fmt.Errorf("unable to count characters: %w", err)
	}
	glyphs := make([]Glyph, 0, count.Count)
	for i := 0; i < count.Count; i++ {
		u, err := inst.FPDFText_GetUnicode(&requests.FPDFText_GetUnicode{TextPage: text.TextPage, Index: i})
		if err != nil {
			return nil, fmt.Errorf("unable to read character %d: %w", i, err)
		}
		g := Glyph{Rune: rune(u.Unicode)}
		// generated separators have no box
		if box, err := inst.FPDFText_GetCharBox(&requests.FPDFText_GetCharBox{TextPage: text.TextPage, Index: i}); err == nil {
			g.Rect = geometry.AbsRect{X1: box.Left, Y1: box.Bottom, X2: box.Right, Y2: box.Top}.Normalize()
		}
		glyphs = append(glyphs, g)
	}
	return glyphs, nil
}

func (h *pdfiumHandle) FindText(num int, text string) ([]geometry.AbsRect, error) {
	if err := h.lock(); err != nil {
		return nil, err
	}
	defer h.unlock()
	glyphs, err := h.glyphs(num)
	if err != nil {
		return nil, err
	}
	return FindInGlyphs(glyphs, text), nil
}

func (h *pdfiumHandle) WordList(num int) ([]Word, error) {
	if err := h.lock(); err != nil {
		return nil, err
	}
	defer h.unlock()
	glyphs, err := h.glyphs(num)
	if err != nil {
		return nil, err
	}
	return GroupWords(glyphs), nil
}

func (h *pdfiumHandle) AddHighlights(num int, rects []geometry.AbsRect) error {
	if err := h.lock(); err != nil {
		return err
	}
	defer h.unlock()
	page, err := h.page(num)
	if err != nil {
		return err
	}
	inst := h.inst()
	for _, r := range rects {
		r = r.Normalize()
		annot, err := inst.FPDFPage_CreateAnnot(&requests.FPDFPage_CreateAnnot{
			Page:    page,
			Subtype: enums.FPDF_ANNOT_SUBTYPE_HIGHLIGHT,
		})
		if err != nil {
			return fmt.Errorf("unable to create highlight: %w", err)
		}
		h.highlights[num]++
		err = h.styleHighlight(annot.Annotation, r)
		inst.FPDFPage_CloseAnnot(&requests.FPDFPage_CloseAnnot{Annotation: annot.Annotation})
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *pdfiumHandle) styleHighlight(annot references.FPDF_ANNOTATION, r geometry.AbsRect) error {
	inst := h.inst()
	x1, y1, x2, y2 := float32(r.X1), float32(r.Y1), float32(r.X2), float32(r.Y2)
	if _, err := inst.FPDFAnnot_SetRect(&requests.FPDFAnnot_SetRect{
		Annotation: annot,
		Rect:       structs.FPDF_FS_RECTF{Left: x1, Top: y2, Right: x2, Bottom: y1},
	}); err != nil {
		return fmt.Errorf("unable to set highlight rectangle: %w", err)
	}
	// quad order for text markup: top-left, top-right, bottom-left, bottom-right
	if _, err := inst.FPDFAnnot_AppendAttachmentPoints(&requests.FPDFAnnot_AppendAttachmentPoints{
		Annotation: annot,
		AttachmentPoints: structs.FPDF_FS_QUADPOINTSF{
			X1: x1, Y1: y2,
			X2: x2, Y2: y2,
			X3: x1, Y3: y1,
			X4: x2, Y4: y1,
		},
	}); err != nil {
		return fmt.Errorf("unable to set highlight quad points: %w", err)
	}
	if _, err := inst.FPDFAnnot_SetColor(&requests.FPDFAnnot_SetColor{
		Annotation: annot,
		ColorType:  enums.FPDFANNOT_COLORTYPE_Color,
		R:          uint(HighlightColor.R),
		G:          uint(HighlightColor.G),
		B:          uint(HighlightColor.B),
		A:          uint(HighlightColor.A),
	}); err != nil {
		return fmt.Errorf("unable to set highlight color: %w", err)
	}
	return nil
}

func (h *pdfiumHandle) DeleteHighlights(num int) error {
	if err := h.lock(); err != nil {
		return err
	}
	defer h.unlock()
	page, err := h.page(num)
	if err != nil {
		return err
	}
	inst := h.inst()
	for h.highlights[num] > 0 {
		count, err := inst.FPDFPage_GetAnnotCount(&requests.FPDFPage_GetAnnotCount{Page: page})
		if err != nil {
			return fmt.Errorf("unable to count annotations: %w", err)
		}
		if count.Count == 0 {
			break
		}
		last := count.Count - 1
		annot, err := inst.FPDFPage_GetAnnot(&requests.FPDFPage_GetAnnot{Page: page, Index: last})
		if err != nil {
			return fmt.Errorf("unable to read annotation %d: %w", last, err)
		}
		subtype, err := inst.FPDFAnnot_GetSubtype(&requests.FPDFAnnot_GetSubtype{Annotation: annot.Annotation})
		inst.FPDFPage_CloseAnnot(&requests.FPDFPage_CloseAnnot{Annotation: annot.Annotation})
		if err != nil {
			return fmt.Errorf("unable to read annotation subtype: %w", err)
		}
		if subtype.Subtype != enums.FPDF_ANNOT_SUBTYPE_HIGHLIGHT {
			break
		}
		if _, err := inst.FPDFPage_RemoveAnnot(&requests.FPDFPage_RemoveAnnot{Page: page, Index: last}); err != nil {
			return fmt.Errorf("unable to remove highlight: %w", err)
		}
		h.highlights[num]--
	}
	delete(h.highlights, num)
	return nil
}

// Rasterize renders the page into a bitmap the size of region, offsetting the
// page so that only the requested pixels are produced.
func (h *pdfiumHandle) Rasterize(num int, size image.Point, region image.Rectangle) (image.Image, error) {
	if region.Empty() {
		return nil, fmt.Errorf("empty render region %v", region)
	}
	if err := h.lock(); err != nil {
		return nil, err
	}
	defer h.unlock()
	page, err := h.page(num)
	if err != nil {
		return nil, err
	}
	inst := h.inst()

	w, ht := region.Dx(), region.Dy()
	bitmap, err := inst.FPDFBitmap_Create(&requests.FPDFBitmap_Create{Width: w, Height: ht, Alpha: 0})
	if err != nil {
		return nil, fmt.Errorf("unable to allocate bitmap: %w", err)
	}
	defer inst.FPDFBitmap_Destroy(&requests.FPDFBitmap_Destroy{Bitmap: bitmap.Bitmap})

	if _, err := inst.FPDFBitmap_FillRect(&requests.FPDFBitmap_FillRect{
		Bitmap: bitmap.Bitmap,
		Width:  w,
		Height: ht,
		Color:  0xFFFFFFFF,
	}); err != nil {
		return nil, fmt.Errorf("unable to clear bitmap: %w", err)
	}

	if _, err := inst.FPDF_RenderPageBitmap(&requests.FPDF_RenderPageBitmap{
		Bitmap: bitmap.Bitmap,
		Page:   page,
		StartX: -region.Min.X,
		StartY: -region.Min.Y,
		SizeX:  size.X,
		SizeY:  size.Y,
		Rotate: enums.FPDF_PAGE_ROTATION_NONE,
		Flags:  enums.FPDF_RENDER_FLAG_ANNOT,
	}); err != nil {
		return nil, fmt.Errorf("unable to render page %d: %w", num, err)
	}

	buffer, err := inst.FPDFBitmap_GetBuffer(&requests.FPDFBitmap_GetBuffer{Bitmap: bitmap.Bitmap})
	if err != nil {
		return nil, fmt.Errorf("unable to read bitmap: %w", err)
	}
	stride, err := inst.FPDFBitmap_GetStride(&requests.FPDFBitmap_GetStride{Bitmap: bitmap.Bitmap})
	if err != nil {
		return nil, fmt.Errorf("unable to read bitmap stride: %w", err)
	}
	return bgrxToRGBA(buffer.Buffer, stride.Stride, region), nil
}

// bgrxToRGBA copies a PDFium BGRx buffer into an opaque RGBA image whose
// bounds are region.
func bgrxToRGBA(buf []byte, stride int, region image.Rectangle) *image.RGBA {
	img := image.NewRGBA(region)
	w, ht := region.Dx(), region.Dy()
	for y := 0; y < ht; y++ {
		src := buf[y*stride:]
		dst := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			dst[x*4+0] = src[x*4+2]
			dst[x*4+1] = src[x*4+1]
			dst[x*4+2] = src[x*4+0]
			dst[x*4+3] = 0xFF
		}
	}
	return img
}

func (h *pdfiumHandle) Close() error {
	h.engine.mu.Lock()
	defer h.engine.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.engine.instance == nil {
		return nil
	}
	inst := h.inst()
	for num, ref := range h.pages {
		inst.FPDF_ClosePage(&requests.FPDF_ClosePage{Page: ref})
		delete(h.pages, num)
	}
	if _, err := inst.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: h.doc}); err != nil {
		return fmt.Errorf("unable to close PDF document: %w", err)
	}
	return nil
}
