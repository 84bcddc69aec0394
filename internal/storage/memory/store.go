// Package memory provides in-process implementations of the crawl repositories
// for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
)

// Store implements crawler.Store with mutex-guarded maps.
type Store struct {
	mu         sync.RWMutex
	clock      crawler.Clock
	maxRetries int
	nextID     int64
	entries    map[int64]*crawler.QueueEntry
	byURL      map[string]int64
	books      map[string]crawler.BookRecord
	logs       []crawler.LogEntry
}

var _ crawler.Store = (*Store)(nil)

// Option customizes a Store.
type Option func(*Store)

// WithMaxRetries sets the retry budget given to newly enqueued entries.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// NewStore constructs an empty Store. A nil clock uses time.Now in UTC.
func NewStore(clock crawler.Clock, opts ...Option) *Store {
	if clock == nil {
		clock = utcClock{}
	}
	s := &Store{
		clock:      clock,
		maxRetries: crawler.DefaultMaxRetries,
		entries:    make(map[int64]*crawler.QueueEntry),
		byURL:      make(map[string]int64),
		books:      make(map[string]crawler.BookRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close implements crawler.Store; there is nothing to release.
func (s *Store) Close() error {
	return nil
}

// Enqueue adds url once; later calls for the same URL are no-ops.
func (s *Store) Enqueue(_ context.Context, url string, kind crawler.URLKind, priority int) (bool, error) {
	if url == "" {
		return false, fmt.Errorf("enqueue: %w", crawler.ErrInvalidURL)
	}
	if !kind.Valid() {
		return false, fmt.Errorf("enqueue %s as %q: %w", url, kind, crawler.ErrInvalidKind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byURL[url]; exists {
		return false, nil
	}
	s.nextID++
	now := s.clock.Now()
	s.entries[s.nextID] = &crawler.QueueEntry{
		ID:         s.nextID,
		URL:        url,
		Kind:       kind,
		Priority:   priority,
		Status:     crawler.StatusPending,
		MaxRetries: s.maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.byURL[url] = s.nextID
	return true, nil
}

// DequeueNext claims the eligible entry with the highest priority, oldest first.
func (s *Store) DequeueNext(_ context.Context) (crawler.QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *crawler.QueueEntry
	for _, e := range s.entries {
		if !e.Eligible() {
			continue
		}
		if best == nil || before(e, best) {
			best = e
		}
	}
	if best == nil {
		return crawler.QueueEntry{}, false, nil
	}
	now := s.clock.Now()
	best.Status = crawler.StatusProcessing
	best.ProcessingStartedAt = pointerTime(now)
	best.UpdatedAt = now
	return copyEntry(*best), true, nil
}

func before(a, b *crawler.QueueEntry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// MarkCompleted records a successful visit.
func (s *Store) MarkCompleted(_ context.Context, id int64, itemsFound, itemsSaved int) error {
	return s.update(id, func(e *crawler.QueueEntry, now time.Time) {
		e.Status = crawler.StatusCompleted
		e.ItemsFound = itemsFound
		e.ItemsSaved = itemsSaved
		e.ErrorMessage = nil
		e.CompletedAt = pointerTime(now)
	})
}

// MarkFailed moves the entry to its terminal failed state.
func (s *Store) MarkFailed(_ context.Context, id int64, errMsg string) error {
	return s.update(id, func(e *crawler.QueueEntry, now time.Time) {
		e.Status = crawler.StatusFailed
		e.ErrorMessage = pointerString(errMsg)
		e.CompletedAt = pointerTime(now)
	})
}

// MarkRetry returns the entry to the pool and bumps its retry count.
func (s *Store) MarkRetry(_ context.Context, id int64, errMsg string) error {
	return s.update(id, func(e *crawler.QueueEntry, _ time.Time) {
		e.Status = crawler.StatusRetry
		e.RetryCount++
		e.ErrorMessage = pointerString(errMsg)
	})
}

func (s *Store) update(id int64, apply func(*crawler.QueueEntry, time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("queue entry %d: %w", id, crawler.ErrNotFound)
	}
	now := s.clock.Now()
	apply(e, now)
	e.UpdatedAt = now
	return nil
}

// Stats groups entries by status.
func (s *Store) Stats(_ context.Context) ([]crawler.QueueStatusCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agg := make(map[crawler.QueueStatus]*crawler.QueueStatusCount)
	for _, e := range s.entries {
		c, ok := agg[e.Status]
		if !ok {
			c = &crawler.QueueStatusCount{Status: e.Status}
			agg[e.Status] = c
		}
		c.Count++
		c.ItemsFound += e.ItemsFound
		c.ItemsSaved += e.ItemsSaved
	}
	out := make([]crawler.QueueStatusCount, 0, len(agg))
	for _, c := range agg {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

// ResetFailed puts failed entries back to pending with a fresh retry budget.
func (s *Store) ResetFailed(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	var n int64
	for _, e := range s.entries {
		if e.Status != crawler.StatusFailed {
			continue
		}
		e.Status = crawler.StatusPending
		e.RetryCount = 0
		e.ErrorMessage = nil
		e.CompletedAt = nil
		e.UpdatedAt = now
		n++
	}
	return n, nil
}

// Entry returns a copy of the queue entry for url.
func (s *Store) Entry(url string) (crawler.QueueEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byURL[url]
	if !ok {
		return crawler.QueueEntry{}, false
	}
	return copyEntry(*s.entries[id]), true
}

// Entries returns copies of every queue entry ordered by id.
func (s *Store) Entries() []crawler.QueueEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.QueueEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, copyEntry(*e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpsertBook inserts or replaces the book, keeping the original CreatedAt.
func (s *Store) UpsertBook(_ context.Context, record crawler.BookRecord) error {
	if record.ID == "" {
		return fmt.Errorf("upsert book: id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.books[record.ID]; ok && !existing.CreatedAt.IsZero() {
		record.CreatedAt = existing.CreatedAt
	}
	if record.ChapterURLs != nil {
		record.ChapterURLs = append(make([]string, 0, len(record.ChapterURLs)), record.ChapterURLs...)
	}
	s.books[record.ID] = record
	return nil
}

// GetBook returns the stored book or crawler.ErrNotFound.
func (s *Store) GetBook(_ context.Context, id string) (crawler.BookRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.books[id]
	if !ok {
		return crawler.BookRecord{}, fmt.Errorf("book %s: %w", id, crawler.ErrNotFound)
	}
	return rec, nil
}

// ListBookKeys returns the identity of every stored book.
func (s *Store) ListBookKeys(_ context.Context) ([]crawler.BookKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]crawler.BookKey, 0, len(s.books))
	for _, b := range s.books {
		keys = append(keys, b.Key())
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })
	return keys, nil
}

// BooksNeedingRepair returns books matching any enabled criterion, ordered by id.
func (s *Store) BooksNeedingRepair(_ context.Context, criteria crawler.RepairCriteria) ([]crawler.BookRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.BookRecord
	for _, b := range s.books {
		if needsRepair(b, criteria) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if criteria.Limit > 0 && len(out) > criteria.Limit {
		out = out[:criteria.Limit]
	}
	return out, nil
}

func needsRepair(b crawler.BookRecord, c crawler.RepairCriteria) bool {
	switch {
	case c.MissingAudio && b.MainAudioURL == "":
		return true
	case c.UnknownAuthor && b.Author == crawler.UnknownAuthor:
		return true
	case c.MissingCover && b.CoverImageURL == "":
		return true
	case c.BundleAudio && strings.Contains(b.MainAudioURL, crawler.BundleAudioMarker):
		return true
	case c.MissingChapters && b.ChapterURLs == nil:
		return true
	case c.IncompleteStatus && b.CrawlStatus != crawler.CrawlCompleted:
		return true
	default:
		return false
	}
}

// PurgeNonAudio deletes books with no audio URL or no duration.
func (s *Store) PurgeNonAudio(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, b := range s.books {
		if b.MainAudioURL == "" || b.DurationSeconds <= 0 {
			delete(s.books, id)
			n++
		}
	}
	return n, nil
}

// AppendLog stores a run log entry.
func (s *Store) AppendLog(_ context.Context, entry crawler.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.clock.Now()
	}
	s.logs = append(s.logs, entry)
	return nil
}

// Logs returns a copy of the stored run log.
func (s *Store) Logs() []crawler.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.LogEntry(nil), s.logs...)
}

// BookCount returns the number of stored books.
func (s *Store) BookCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.books)
}

func copyEntry(e crawler.QueueEntry) crawler.QueueEntry {
	if e.ErrorMessage != nil {
		e.ErrorMessage = pointerString(*e.ErrorMessage)
	}
	if e.ProcessingStartedAt != nil {
		e.ProcessingStartedAt = pointerTime(*e.ProcessingStartedAt)
	}
	if e.CompletedAt != nil {
		e.CompletedAt = pointerTime(*e.CompletedAt)
	}
	return e
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func pointerString(s string) *string {
	return &s
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
