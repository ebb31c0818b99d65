package pdfdoc

import (
	"fmt"
	"sync"

	"github.com/drummonds/pdfpage/pdfengine"
)

// DefaultMaxPixels is the largest render region accepted, in pixels.
const DefaultMaxPixels = 100_000_000

// Document is an open PDF.
type Document struct {
	// mu is held for reading by every page operation and for writing by Close,
	// so the engine handle is never released under a running operation.
	mu     sync.RWMutex
	closed bool

	engine    pdfengine.Engine
	handle    pdfengine.Handle
	meta      pdfengine.DocumentMeta
	fileName  string
	maxPixels int64
	scheduler Scheduler
}

// Option configures Open.
type Option func(*openConfig)

type openConfig struct {
	userPassword  string
	ownerPassword string
	maxPixels     int64
	scheduler     Scheduler
}

// WithPasswords sets the passwords tried on encrypted documents.
func WithPasswords(user, owner string) Option {
	return func(c *openConfig) {
		c.userPassword, c.ownerPassword = user, owner
	}
}

// WithMaxPixels overrides DefaultMaxPixels.
func WithMaxPixels(n int64) Option {
	return func(c *openConfig) {
		if n > 0 {
			c.maxPixels = n
		}
	}
}

// WithScheduler sets where callback and future renders run, bypassing the
// engine capability check.
func WithScheduler(s Scheduler) Option {
	return func(c *openConfig) {
		c.scheduler = s
	}
}

// Open opens a document from src.
func Open(engine pdfengine.Engine, src pdfengine.Source, opts ...Option) (*Document, error) {
	cfg := openConfig{maxPixels: DefaultMaxPixels}
	for _, opt := range opts {
		opt(&cfg)
	}

	handle, err := engine.Open(src, cfg.userPassword, cfg.ownerPassword)
	if err != nil {
		Logger.Warn("Unable to open document", "source", src.String(), "engine", engine.Name(), "error", err)
		return nil, openError(err)
	}

	scheduler := cfg.scheduler
	if scheduler == nil {
		scheduler = SchedulerFor(engine)
	}
	doc := &Document{
		engine:    engine,
		handle:    handle,
		meta:      handle.Meta(),
		fileName:  src.Path,
		maxPixels: cfg.maxPixels,
		scheduler: scheduler,
	}
	Logger.Info("Opened document", "source", src.String(), "pages", doc.meta.PageCount, "version", doc.PDFVersion())
	return doc, nil
}

// OpenFile opens the document at path.
func OpenFile(engine pdfengine.Engine, path string, opts ...Option) (*Document, error) {
	return Open(engine, pdfengine.FromPath(path), opts...)
}

// OpenBytes opens an in-memory document. The slice must not be modified while
// the document is open.
func OpenBytes(engine pdfengine.Engine, data []byte, opts ...Option) (*Document, error) {
	return Open(engine, pdfengine.FromBytes(data), opts...)
}

func (d *Document) IsLinearized() bool   { return d.meta.IsLinearized }
func (d *Document) IsEncrypted() bool    { return d.meta.IsEncrypted }
func (d *Document) PageCount() int       { return d.meta.PageCount }
func (d *Document) PDFMajorVersion() int { return d.meta.MajorVersion }
func (d *Document) PDFMinorVersion() int { return d.meta.MinorVersion }

// PDFVersion is formatted as "PDF-major.minor".
func (d *Document) PDFVersion() string {
	return fmt.Sprintf("PDF-%d.%d", d.meta.MajorVersion, d.meta.MinorVersion)
}

// FileName is the path the document was opened from, empty for in-memory documents.
func (d *Document) FileName() string { return d.fileName }

// Engine returns the engine the document was opened with.
func (d *Document) Engine() pdfengine.Engine { return d.engine }

// Closed reports whether Close has been called.
func (d *Document) Closed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

// DocumentInfo is a snapshot of the document attributes.
type DocumentInfo struct {
	PageCount       int    `json:"pageCount"`
	PDFVersion      string `json:"PDFVersion"`
	PDFMajorVersion int    `json:"PDFMajorVersion"`
	PDFMinorVersion int    `json:"PDFMinorVersion"`
	IsLinearized    bool   `json:"isLinearized"`
	IsEncrypted     bool   `json:"isEncrypted"`
	FileName        string `json:"fileName,omitempty"`
}

// Info returns all document attributes at once.
func (d *Document) Info() DocumentInfo {
	return DocumentInfo{
		PageCount:       d.PageCount(),
		PDFVersion:      d.PDFVersion(),
		PDFMajorVersion: d.PDFMajorVersion(),
		PDFMinorVersion: d.PDFMinorVersion(),
		IsLinearized:    d.IsLinearized(),
		IsEncrypted:     d.IsEncrypted(),
		FileName:        d.FileName(),
	}
}

// GetPage returns page num, counting from 1.
func (d *Document) GetPage(num int) (*Page, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, closedError()
	}
	if num < 1 || num > d.meta.PageCount {
		return nil, newError(ErrPageRange, msgPageRange, nil)
	}
	m, err := d.handle.PageMetrics(num)
	if err != nil {
		return nil, fmt.Errorf("unable to read page %d: %w", num, err)
	}
	return &Page{doc: d, num: num, rotate: m.Rotate, boxes: m.Boxes}, nil
}

// Close releases the engine handle. It waits for running page operations and
// is safe to call more than once.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	Logger.Info("Closing document", "source", d.fileName, "pages", d.meta.PageCount)
	if err := d.handle.Close(); err != nil {
		return fmt.Errorf("unable to close document: %w", err)
	}
	return nil
}
