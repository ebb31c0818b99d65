package database

import (
	"crypto/md5"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// ErrNotFound is returned when a document or render record does not exist
var ErrNotFound = errors.New("record not found")

// Close reasons stored with a closed document
const (
	ClosedByClient   = "client"
	ClosedByIdle     = "idle"
	ClosedByShutdown = "shutdown"
	ClosedByRestart  = "restart"
)

// Document is the registry entry for a PDF opened by the server
type Document struct {
	ID          ulid.ULID  `json:"id"`
	Name        string     `json:"name"`
	Path        string     `json:"path,omitempty"` // empty for uploads
	Hash        string     `json:"hash"`
	Engine      string     `json:"engine"`
	PageCount   int        `json:"pageCount"`
	PDFVersion  string     `json:"pdfVersion"`
	Encrypted   bool       `json:"isEncrypted"`
	Linearized  bool       `json:"isLinearized"`
	OpenedAt    time.Time  `json:"openedAt"`
	ClosedAt    *time.Time `json:"closedAt,omitempty"`
	CloseReason string     `json:"closeReason,omitempty"`
}

// Open reports whether the document has not been closed yet
func (d *Document) Open() bool {
	return d.ClosedAt == nil
}

// RenderRecord is one entry of the render history. Failed renders carry the
// error message and kind instead of output details.
type RenderRecord struct {
	ID         ulid.ULID `json:"id"`
	DocumentID ulid.ULID `json:"documentId"`
	Page       int       `json:"page"`
	Target     string    `json:"target"`
	Format     string    `json:"format"`
	PPI        float64   `json:"ppi"`
	Options    string    `json:"options,omitempty"` // JSON encoded render options
	Path       string    `json:"path,omitempty"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	Bytes      int       `json:"bytes,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"errorKind,omitempty"`
	DurationMS int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Succeeded reports whether the render produced output
func (r *RenderRecord) Succeeded() bool {
	return r.Error == ""
}

// Repository defines database operations
type Repository interface {
	Close() error
	SaveDocument(doc *Document) error
	GetDocument(id ulid.ULID) (*Document, error)
	ListDocuments(openOnly bool) ([]Document, error)
	MarkDocumentClosed(id ulid.ULID, reason string, at time.Time) error
	MarkAllDocumentsClosed(reason string) (int, error)
	RecordRender(rec *RenderRecord) error
	GetRenders(docID ulid.ULID, limit int) ([]RenderRecord, error)
	DeleteOldRenders(olderThan time.Duration) (int, error)
}

// FetchDocument fetches the requested document by its ULID string
func FetchDocument(docULIDSt string, db Repository) (Document, int, error) {
	id, err := ulid.Parse(docULIDSt)
	if err != nil {
		Logger.Warn("Malformed document id", "id", docULIDSt, "error", err)
		return Document{}, http.StatusNotFound, fmt.Errorf("%w: %s", ErrNotFound, docULIDSt)
	}
	foundDocument, err := db.GetDocument(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			Logger.Debug("Unable to find the requested document", "id", docULIDSt)
			return Document{}, http.StatusNotFound, err
		}
		Logger.Error("Database error fetching document", "error", err)
		return Document{}, http.StatusInternalServerError, err
	}
	return *foundDocument, http.StatusOK, nil
}

// notFound turns sql.ErrNoRows into ErrNotFound
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}

// CalculateHash returns the hex md5 of document bytes
func CalculateHash(data []byte) string {
	return fmt.Sprintf("%x", md5.Sum(data))
}

// CalculateUUID for a new document or render record
func CalculateUUID(time time.Time) (ulid.ULID, error) {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.UnixNano())), 0)
	newULID, err := ulid.New(ulid.Timestamp(time), entropy)
	if err != nil {
		return newULID, err
	}
	return newULID, nil
}
