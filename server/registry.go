package server

import (
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/drummonds/pdfpage/database"
	"github.com/drummonds/pdfpage/pdfdoc"
)

// openDocument is a document the server holds an engine handle for
type openDocument struct {
	doc    *pdfdoc.Document
	record database.Document

	mu       sync.Mutex
	lastUsed time.Time
}

func (o *openDocument) touch(now time.Time) {
	o.mu.Lock()
	o.lastUsed = now
	o.mu.Unlock()
}

func (o *openDocument) idleSince() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastUsed
}

// registry maps document ids to open documents
type registry struct {
	mu   sync.RWMutex
	docs map[ulid.ULID]*openDocument
}

func newRegistry() *registry {
	return &registry{docs: map[ulid.ULID]*openDocument{}}
}

func (r *registry) add(o *openDocument) {
	r.mu.Lock()
	r.docs[o.record.ID] = o
	r.mu.Unlock()
}

// get returns the open document and marks it used
func (r *registry) get(id ulid.ULID) (*openDocument, bool) {
	r.mu.RLock()
	o, ok := r.docs[id]
	r.mu.RUnlock()
	if ok {
		o.touch(time.Now())
	}
	return o, ok
}

// has reports whether id is open without marking it used
func (r *registry) has(id ulid.ULID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.docs[id]
	return ok
}

// remove takes a document out of the registry. Only one caller wins.
func (r *registry) remove(id ulid.ULID) (*openDocument, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.docs[id]
	if ok {
		delete(r.docs, id)
	}
	return o, ok
}

// idle lists documents unused since before cutoff
func (r *registry) idle(cutoff time.Time) []ulid.ULID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []ulid.ULID
	for id, o := range r.docs {
		if o.idleSince().Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// all lists every open document id in id order
func (r *registry) all() []ulid.ULID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ulid.ULID, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })
	return ids
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}
