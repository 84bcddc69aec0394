package crawler

import (
	"context"
	"time"
)

// Frontier is the durable, prioritized set of URLs still to crawl.
type Frontier interface {
	// Enqueue adds url if unseen and reports whether a new entry was created.
	Enqueue(ctx context.Context, url string, kind URLKind, priority int) (bool, error)
	// DequeueNext atomically claims the highest-priority eligible entry.
	// ok is false when nothing is eligible.
	DequeueNext(ctx context.Context) (entry QueueEntry, ok bool, err error)
	MarkCompleted(ctx context.Context, id int64, itemsFound, itemsSaved int) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	// MarkRetry returns the entry to the eligible pool and increments its retry count.
	MarkRetry(ctx context.Context, id int64, errMsg string) error
	Stats(ctx context.Context) ([]QueueStatusCount, error)
	// ResetFailed returns failed entries to pending with a fresh retry budget.
	ResetFailed(ctx context.Context) (int64, error)
}

// BookStore persists normalized book records.
type BookStore interface {
	// UpsertBook inserts or overwrites the book keyed by record.ID.
	UpsertBook(ctx context.Context, record BookRecord) error
	GetBook(ctx context.Context, id string) (BookRecord, error)
	ListBookKeys(ctx context.Context) ([]BookKey, error)
	BooksNeedingRepair(ctx context.Context, criteria RepairCriteria) ([]BookRecord, error)
	// PurgeNonAudio deletes books that have no audio or no duration.
	PurgeNonAudio(ctx context.Context) (int64, error)
}

// LogStore appends run log entries.
type LogStore interface {
	AppendLog(ctx context.Context, entry LogEntry) error
}

// Store bundles every repository the orchestrator needs behind one handle.
type Store interface {
	Frontier
	BookStore
	LogStore
	Close() error
}

// PageFetcher retrieves a URL and extracts book data from it.
type PageFetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (PageResult, error)
}

// RunLogger receives structured run log entries.
type RunLogger interface {
	Emit(entry LogEntry)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
