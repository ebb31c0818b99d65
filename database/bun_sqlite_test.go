package database

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/oklog/ulid/v2"

	"github.com/drummonds/pdfpage/config"
)

func newTestRepository(t *testing.T) *BunDB {
	t.Helper()
	// Initialize logger for tests
	if Logger == nil {
		Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	db, err := NewRepository(config.ServerConfig{DatabaseType: "sqlite", DatabaseDbname: ":memory:"})
	if err != nil {
		t.Fatalf("Failed to setup sqlite database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestDocument(t *testing.T, name string) *Document {
	t.Helper()
	id, err := CalculateUUID(time.Now())
	if err != nil {
		t.Fatalf("Failed to create ULID: %v", err)
	}
	return &Document{
		ID:         id,
		Name:       name,
		Path:       "/tmp/" + name,
		Hash:       CalculateHash([]byte(name)),
		Engine:     "fake",
		PageCount:  2,
		PDFVersion: "PDF-1.7",
		Encrypted:  true,
		OpenedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
}

// timestamps come back from sqlite in the local zone
var sameInstant = cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })

func TestBunSQLiteDocuments(t *testing.T) {
	db := newTestRepository(t)

	t.Run("Create and retrieve document", func(t *testing.T) {
		doc := newTestDocument(t, "test.pdf")
		if err := db.SaveDocument(doc); err != nil {
			t.Fatalf("Failed to save document: %v", err)
		}

		retrieved, err := db.GetDocument(doc.ID)
		if err != nil {
			t.Fatalf("Failed to get document: %v", err)
		}
		if diff := cmp.Diff(doc, retrieved, sameInstant); diff != "" {
			t.Errorf("Document mismatch (-want +got):\n%s", diff)
		}
		if !retrieved.Open() {
			t.Error("A new document should be open")
		}
	})

	t.Run("Unknown document", func(t *testing.T) {
		_, err := db.GetDocument(ulid.Make())
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
		if _, status, _ := FetchDocument("not-a-ulid", db); status != 404 {
			t.Errorf("Expected 404 for a malformed id, got %d", status)
		}
	})

	t.Run("Close and list", func(t *testing.T) {
		first := newTestDocument(t, "first.pdf")
		second := newTestDocument(t, "second.pdf")
		for _, d := range []*Document{first, second} {
			if err := db.SaveDocument(d); err != nil {
				t.Fatalf("Failed to save document: %v", err)
			}
		}

		closedAt := time.Now().UTC()
		if err := db.MarkDocumentClosed(first.ID, ClosedByClient, closedAt); err != nil {
			t.Fatalf("MarkDocumentClosed failed: %v", err)
		}
		// closing twice keeps the first reason
		if err := db.MarkDocumentClosed(first.ID, ClosedByIdle, closedAt.Add(time.Minute)); err != nil {
			t.Fatalf("Second MarkDocumentClosed failed: %v", err)
		}
		got, _ := db.GetDocument(first.ID)
		if got.Open() || got.CloseReason != ClosedByClient {
			t.Errorf("Expected closed by client, got %+v", got)
		}
		if err := db.MarkDocumentClosed(ulid.Make(), ClosedByClient, closedAt); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound closing an unknown document, got %v", err)
		}

		open, err := db.ListDocuments(true)
		if err != nil {
			t.Fatalf("ListDocuments failed: %v", err)
		}
		for _, d := range open {
			if d.ID == first.ID {
				t.Error("Closed document listed as open")
			}
		}
		all, err := db.ListDocuments(false)
		if err != nil {
			t.Fatalf("ListDocuments failed: %v", err)
		}
		if len(all) != len(open)+1 {
			t.Errorf("Expected exactly one closed document, got %d of %d", len(all)-len(open), len(all))
		}

		n, err := db.MarkAllDocumentsClosed(ClosedByRestart)
		if err != nil {
			t.Fatalf("MarkAllDocumentsClosed failed: %v", err)
		}
		if n != len(open) {
			t.Errorf("MarkAllDocumentsClosed closed %d, want %d", n, len(open))
		}
		if open, _ := db.ListDocuments(true); len(open) != 0 {
			t.Errorf("Expected no open documents, got %d", len(open))
		}
	})
}

func TestBunSQLiteRenderHistory(t *testing.T) {
	db := newTestRepository(t)
	doc := newTestDocument(t, "renders.pdf")
	if err := db.SaveDocument(doc); err != nil {
		t.Fatalf("Failed to save document: %v", err)
	}

	old := &RenderRecord{
		DocumentID: doc.ID,
		Page:       1,
		Target:     "buffer",
		Format:     "png",
		PPI:        72,
		Width:      612,
		Height:     792,
		Bytes:      1234,
		CreatedAt:  time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Millisecond),
	}
	failed := &RenderRecord{
		DocumentID: doc.ID,
		Page:       2,
		Target:     "file",
		Format:     "jpeg",
		PPI:        -1,
		Error:      "'PPI' value must be greater then 0 ",
		ErrorKind:  "invalid PPI error",
	}
	recent := &RenderRecord{
		DocumentID: doc.ID,
		Page:       1,
		Target:     "file",
		Format:     "tiff",
		PPI:        150,
		Options:    `{"compression":"deflate"}`,
		Path:       "/tmp/out.tif",
	}
	for _, rec := range []*RenderRecord{old, failed, recent} {
		if err := db.RecordRender(rec); err != nil {
			t.Fatalf("RecordRender failed: %v", err)
		}
		if rec.ID == (ulid.ULID{}) {
			t.Error("RecordRender should assign an id")
		}
	}
	if failed.Succeeded() || !recent.Succeeded() {
		t.Error("Succeeded should follow the error field")
	}
	if failed.Error != "'PPI' value must be greater then 0" {
		t.Errorf("Error text should be trimmed, got %q", failed.Error)
	}

	history, err := db.GetRenders(doc.ID, 0)
	if err != nil {
		t.Fatalf("GetRenders failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(history))
	}
	if history[2].ID != old.ID {
		t.Errorf("Expected the oldest record last, got %v", history[2].ID)
	}
	if diff := cmp.Diff(*old, history[2], sameInstant); diff != "" {
		t.Errorf("Record mismatch (-want +got):\n%s", diff)
	}

	limited, err := db.GetRenders(doc.ID, 1)
	if err != nil || len(limited) != 1 {
		t.Errorf("Expected one record with limit 1, got %d, %v", len(limited), err)
	}

	deleted, err := db.DeleteOldRenders(24 * time.Hour)
	if err != nil {
		t.Fatalf("DeleteOldRenders failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected one old record deleted, got %d", deleted)
	}
	history, _ = db.GetRenders(doc.ID, 0)
	ids := make([]ulid.ULID, 0, len(history))
	for _, r := range history {
		ids = append(ids, r.ID)
	}
	want := []ulid.ULID{recent.ID, failed.ID}
	if diff := cmp.Diff(want, ids, cmpopts.SortSlices(func(a, b ulid.ULID) bool { return a.Compare(b) < 0 })); diff != "" {
		t.Errorf("Remaining records mismatch (-want +got):\n%s", diff)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := newTestRepository(t)
	if err := runMigrations(t.Context(), db.db); err != nil {
		t.Fatalf("Running migrations twice failed: %v", err)
	}
	var applied []appliedMigration
	if err := db.db.NewSelect().Model(&applied).Scan(t.Context()); err != nil {
		t.Fatalf("Failed to read migrations table: %v", err)
	}
	if len(applied) != len(migrations) {
		t.Errorf("Expected %d applied migrations, got %d", len(migrations), len(applied))
	}
}

func TestUnknownDatabaseType(t *testing.T) {
	if Logger == nil {
		Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if _, err := NewRepository(config.ServerConfig{DatabaseType: "mongodb"}); err == nil {
		t.Error("Expected an error for an unknown database type")
	}
}

func TestEphemeralPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ephemeral postgres in short mode")
	}
	if Logger == nil {
		Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	db, err := NewRepository(config.ServerConfig{DatabaseType: "ephemeral"})
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}
	defer db.Close()

	doc := newTestDocument(t, "pg.pdf")
	if err := db.SaveDocument(doc); err != nil {
		t.Fatalf("Failed to save document: %v", err)
	}
	if err := db.RecordRender(&RenderRecord{DocumentID: doc.ID, Page: 1, Target: "buffer", Format: "png", PPI: 72}); err != nil {
		t.Fatalf("RecordRender failed: %v", err)
	}
	history, err := db.GetRenders(doc.ID, 10)
	if err != nil || len(history) != 1 {
		t.Errorf("Expected one render record, got %d, %v", len(history), err)
	}
}
