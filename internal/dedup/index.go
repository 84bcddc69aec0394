// Package dedup tracks which books a crawl run has already accepted.
package dedup

import (
	"sync"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
)

// Index is a run-scoped, append-only set of accepted identities. Each record
// contributes its id and its normalized title/author pair. It is safe for
// concurrent use by multiple goroutines.
type Index struct {
	mu    sync.RWMutex
	ids   map[string]struct{}
	pairs map[string]struct{}
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		ids:   make(map[string]struct{}),
		pairs: make(map[string]struct{}),
	}
}

// Seed loads identities that already exist in storage.
func (x *Index) Seed(keys []crawler.BookKey) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, k := range keys {
		x.addLocked(k)
	}
}

// Check reports whether r duplicates an identity already in the index.
func (x *Index) Check(r crawler.BookRecord) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if r.ID != "" {
		if _, ok := x.ids[r.ID]; ok {
			return true
		}
	}
	if r.Title == "" {
		return false
	}
	_, ok := x.pairs[crawler.TitleAuthorKey(r.Title, r.Author)]
	return ok
}

// Record adds both keys of r. Call it only after r was persisted.
func (x *Index) Record(r crawler.BookRecord) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.addLocked(r.Key())
}

// Len returns the number of distinct ids held.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}

func (x *Index) addLocked(k crawler.BookKey) {
	if k.ID != "" {
		x.ids[k.ID] = struct{}{}
	}
	if k.Title != "" {
		x.pairs[crawler.TitleAuthorKey(k.Title, k.Author)] = struct{}{}
	}
}
