// Package crawler defines core types shared across subsystems.
package crawler

import (
	"strings"
	"time"
)

// DefaultMaxRetries bounds transient failures per queue entry unless overridden.
const DefaultMaxRetries = 3

// URLKind classifies what a queued URL is expected to yield.
type URLKind string

// Supported URL kinds.
const (
	KindListingPage URLKind = "listing-page"
	KindBookDetail  URLKind = "book-detail"
	KindCategory    URLKind = "category"
	KindAuthor      URLKind = "author"
	KindSearch      URLKind = "search"
)

// IsListing reports whether pages of this kind enumerate several books.
func (k URLKind) IsListing() bool {
	return k != KindBookDetail
}

// Valid reports whether k is one of the known kinds.
func (k URLKind) Valid() bool {
	switch k {
	case KindListingPage, KindBookDetail, KindCategory, KindAuthor, KindSearch:
		return true
	default:
		return false
	}
}

// ParseURLKind maps user input (including the legacy "page" and "book_detail"
// spellings) onto a URLKind.
func ParseURLKind(raw string) (URLKind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "listing-page", "listing", "page":
		return KindListingPage, true
	case "book-detail", "book_detail", "detail", "book":
		return KindBookDetail, true
	case "category":
		return KindCategory, true
	case "author":
		return KindAuthor, true
	case "search":
		return KindSearch, true
	default:
		return "", false
	}
}

// QueueStatus is the lifecycle state of a frontier entry.
type QueueStatus string

// Queue status values persisted in the frontier.
const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusCompleted  QueueStatus = "completed"
	StatusFailed     QueueStatus = "failed"
	StatusRetry      QueueStatus = "retry"
)

// QueueEntry is one URL tracked by the frontier.
type QueueEntry struct {
	ID                  int64
	URL                 string
	Kind                URLKind
	Priority            int
	Status              QueueStatus
	RetryCount          int
	MaxRetries          int
	ErrorMessage        *string
	ItemsFound          int
	ItemsSaved          int
	ProcessingStartedAt *time.Time
	CompletedAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Eligible reports whether the entry may be handed out by DequeueNext.
func (e QueueEntry) Eligible() bool {
	return (e.Status == StatusPending || e.Status == StatusRetry) && e.RetryCount < e.MaxRetries
}

// RetriesLeft reports whether one more transient failure still leaves an attempt.
func (e QueueEntry) RetriesLeft() bool {
	return e.RetryCount+1 < e.MaxRetries
}

// QueueStatusCount summarizes the frontier for one status.
type QueueStatusCount struct {
	Status     QueueStatus
	Count      int
	ItemsFound int
	ItemsSaved int
}

// BookCandidate is the raw, unvalidated extraction result for one book.
type BookCandidate struct {
	SourceURL     string
	ID            string
	Title         string
	Author        string
	Description   string
	Duration      string
	Rating        string
	Category      string
	Language      string
	CoverImageURL string
	MainAudioURL  string
	DownloadURL   string
	ChapterURLs   []string
}

// UnknownAuthor is stored when a book page names no author.
const UnknownAuthor = "Unknown Author"

// BundleAudioMarker appears in audio URLs that point at a zip of every chapter
// rather than a playable file.
const BundleAudioMarker = "download-all"

// CrawlStatus tracks how complete a stored book record is.
type CrawlStatus string

// Crawl status values persisted with books.
const (
	CrawlDiscovered CrawlStatus = "discovered"
	CrawlCompleted  CrawlStatus = "completed"
	CrawlFailed     CrawlStatus = "failed"
)

// BookRecord is a normalized, validated book ready for persistence.
type BookRecord struct {
	ID                string
	Title             string
	Author            string
	Description       string
	DurationSeconds   int
	DurationFormatted string
	Language          string
	Category          string
	Rating            *float64
	CoverImageURL     string
	MainAudioURL      string
	DownloadURL       string
	ChapterURLs       []string
	HasChapters       bool
	ChapterCount      int
	CrawlStatus       CrawlStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// BookKey carries the identity fields used to seed deduplication.
type BookKey struct {
	ID     string
	Title  string
	Author string
}

// Key returns the identity of r.
func (r BookRecord) Key() BookKey {
	return BookKey{ID: r.ID, Title: r.Title, Author: r.Author}
}

// TitleAuthorKey normalizes a title/author pair into a comparable key.
func TitleAuthorKey(title, author string) string {
	norm := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(s)), " ")
	}
	return norm(title) + "|" + norm(author)
}

// RepairCriteria selects stored books that a targeted update should revisit.
type RepairCriteria struct {
	MissingAudio     bool
	UnknownAuthor    bool
	MissingCover     bool
	BundleAudio      bool
	MissingChapters  bool
	IncompleteStatus bool
	Limit            int
}

// Any reports whether at least one condition is enabled.
func (c RepairCriteria) Any() bool {
	return c.MissingAudio || c.UnknownAuthor || c.MissingCover ||
		c.BundleAudio || c.MissingChapters || c.IncompleteStatus
}

// LogLevel is the severity of a run log entry.
type LogLevel string

// Run log levels.
const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogEntry is a structured run log record.
type LogEntry struct {
	Level        LogLevel
	Message      string
	BookID       *string
	URL          *string
	ErrorDetails *string
	Timestamp    time.Time
}

// FetchRequest captures everything needed to fetch and extract a URL.
type FetchRequest struct {
	URL  string
	Kind URLKind
}

// PageResult is what a page fetcher extracted from one URL.
type PageResult struct {
	URL         string
	StatusCode  int
	Candidates  []BookCandidate
	DetailURLs  []string
	NextPageURL string
	Duration    time.Duration
}

// RunStats summarizes one orchestrator run.
type RunStats struct {
	Mode              string
	PagesVisited      int
	ItemsProcessed    int
	BooksFound        int
	BooksSaved        int
	DuplicatesSkipped int
	Rejected          map[string]int
	Retried           int
	PermanentlyFailed int
	NotFound          int
	PersistenceErrors int
	Started           time.Time
	Finished          time.Time
}

// TotalRejected sums rejections across reasons.
func (s RunStats) TotalRejected() int {
	total := 0
	for _, n := range s.Rejected {
		total += n
	}
	return total
}
