package database

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/uptrace/bun"
)

// BunDocument represents the documents table for Bun ORM
type BunDocument struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID          string     `bun:"id,pk"` // ULID as string
	Name        string     `bun:"name,notnull"`
	Path        string     `bun:"path,nullzero"`
	Hash        string     `bun:"hash,notnull"`
	Engine      string     `bun:"engine,notnull"`
	PageCount   int        `bun:"page_count,notnull"`
	PDFVersion  string     `bun:"pdf_version,notnull"`
	Encrypted   bool       `bun:"encrypted,notnull"`
	Linearized  bool       `bun:"linearized,notnull"`
	OpenedAt    time.Time  `bun:"opened_at,notnull,default:current_timestamp"`
	ClosedAt    *time.Time `bun:"closed_at,nullzero"`
	CloseReason string     `bun:"close_reason,nullzero"`
}

// ToDocument converts BunDocument to Document
func (bd *BunDocument) ToDocument() (*Document, error) {
	parsedULID, err := ulid.Parse(bd.ID)
	if err != nil {
		return nil, err
	}

	return &Document{
		ID:          parsedULID,
		Name:        bd.Name,
		Path:        bd.Path,
		Hash:        bd.Hash,
		Engine:      bd.Engine,
		PageCount:   bd.PageCount,
		PDFVersion:  bd.PDFVersion,
		Encrypted:   bd.Encrypted,
		Linearized:  bd.Linearized,
		OpenedAt:    bd.OpenedAt,
		ClosedAt:    bd.ClosedAt,
		CloseReason: bd.CloseReason,
	}, nil
}

// FromDocument converts Document to BunDocument
func FromDocument(doc *Document) *BunDocument {
	return &BunDocument{
		ID:          doc.ID.String(),
		Name:        doc.Name,
		Path:        doc.Path,
		Hash:        doc.Hash,
		Engine:      doc.Engine,
		PageCount:   doc.PageCount,
		PDFVersion:  doc.PDFVersion,
		Encrypted:   doc.Encrypted,
		Linearized:  doc.Linearized,
		OpenedAt:    doc.OpenedAt,
		ClosedAt:    doc.ClosedAt,
		CloseReason: doc.CloseReason,
	}
}

// BunRenderRecord represents the render_logs table for Bun ORM
type BunRenderRecord struct {
	bun.BaseModel `bun:"table:render_logs,alias:r"`

	ID         string    `bun:"id,pk"`
	DocumentID string    `bun:"document_id,notnull"`
	Page       int       `bun:"page,notnull"`
	Target     string    `bun:"target,notnull"`
	Format     string    `bun:"format,notnull"`
	PPI        float64   `bun:"ppi,notnull"`
	Options    string    `bun:"options,nullzero"`
	Path       string    `bun:"path,nullzero"`
	Width      int       `bun:"width,notnull,default:0"`
	Height     int       `bun:"height,notnull,default:0"`
	Bytes      int       `bun:"bytes,notnull,default:0"`
	Error      string    `bun:"error,nullzero"`
	ErrorKind  string    `bun:"error_kind,nullzero"`
	DurationMS int64     `bun:"duration_ms,notnull,default:0"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// ToRenderRecord converts BunRenderRecord to RenderRecord
func (br *BunRenderRecord) ToRenderRecord() (*RenderRecord, error) {
	id, err := ulid.Parse(br.ID)
	if err != nil {
		return nil, err
	}
	docID, err := ulid.Parse(br.DocumentID)
	if err != nil {
		return nil, err
	}

	return &RenderRecord{
		ID:         id,
		DocumentID: docID,
		Page:       br.Page,
		Target:     br.Target,
		Format:     br.Format,
		PPI:        br.PPI,
		Options:    br.Options,
		Path:       br.Path,
		Width:      br.Width,
		Height:     br.Height,
		Bytes:      br.Bytes,
		Error:      br.Error,
		ErrorKind:  br.ErrorKind,
		DurationMS: br.DurationMS,
		CreatedAt:  br.CreatedAt,
	}, nil
}

// FromRenderRecord converts RenderRecord to BunRenderRecord
func FromRenderRecord(rec *RenderRecord) *BunRenderRecord {
	return &BunRenderRecord{
		ID:         rec.ID.String(),
		DocumentID: rec.DocumentID.String(),
		Page:       rec.Page,
		Target:     rec.Target,
		Format:     rec.Format,
		PPI:        rec.PPI,
		Options:    rec.Options,
		Path:       rec.Path,
		Width:      rec.Width,
		Height:     rec.Height,
		Bytes:      rec.Bytes,
		Error:      rec.Error,
		ErrorKind:  rec.ErrorKind,
		DurationMS: rec.DurationMS,
		CreatedAt:  rec.CreatedAt,
	}
}
