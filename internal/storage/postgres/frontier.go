package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
)

const queueColumns = `id, url, url_type, priority, status, retry_count, max_retries, error_message,
	books_found, books_saved, processing_started_at, completed_at, created_at, updated_at`

// Enqueue inserts url unless it is already queued.
func (s *Store) Enqueue(ctx context.Context, url string, kind crawler.URLKind, priority int) (bool, error) {
	if url == "" {
		return false, fmt.Errorf("enqueue: %w", crawler.ErrInvalidURL)
	}
	if !kind.Valid() {
		return false, fmt.Errorf("enqueue %s as %q: %w", url, kind, crawler.ErrInvalidKind)
	}
	now := s.clock.Now()
	tag, err := s.pool.Exec(ctx, `
INSERT INTO url_queue (url, url_type, priority, status, retry_count, max_retries, created_at, updated_at)
VALUES ($1, $2, $3, 'pending', 0, $4, $5, $5)
ON CONFLICT (url) DO NOTHING`,
		url, string(kind), priority, s.maxRetries, now)
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", url, err)
	}
	return tag.RowsAffected() > 0, nil
}

// DequeueNext claims the next eligible entry. SKIP LOCKED lets concurrent
// claimers pass over a row another transaction is already taking.
func (s *Store) DequeueNext(ctx context.Context) (crawler.QueueEntry, bool, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE url_queue
SET status = 'processing', processing_started_at = $1, updated_at = $1
WHERE id = (
	SELECT id FROM url_queue
	WHERE status IN ('pending', 'retry') AND retry_count < max_retries
	ORDER BY priority DESC, created_at ASC, id ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING `+queueColumns, s.clock.Now())
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.QueueEntry{}, false, nil
	}
	if err != nil {
		return crawler.QueueEntry{}, false, fmt.Errorf("dequeue: %w", err)
	}
	return entry, true, nil
}

// MarkCompleted records a successful visit.
func (s *Store) MarkCompleted(ctx context.Context, id int64, itemsFound, itemsSaved int) error {
	return s.updateEntry(ctx, id, `
UPDATE url_queue
SET status = 'completed', books_found = $1, books_saved = $2, error_message = NULL,
	completed_at = $3, updated_at = $3
WHERE id = $4`, itemsFound, itemsSaved, s.clock.Now(), id)
}

// MarkFailed moves the entry to its terminal failed state.
func (s *Store) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	return s.updateEntry(ctx, id, `
UPDATE url_queue
SET status = 'failed', error_message = $1, completed_at = $2, updated_at = $2
WHERE id = $3`, errMsg, s.clock.Now(), id)
}

// MarkRetry returns the entry to the pool and bumps its retry count.
func (s *Store) MarkRetry(ctx context.Context, id int64, errMsg string) error {
	return s.updateEntry(ctx, id, `
UPDATE url_queue
SET status = 'retry', retry_count = retry_count + 1, error_message = $1, updated_at = $2
WHERE id = $3`, errMsg, s.clock.Now(), id)
}

func (s *Store) updateEntry(ctx context.Context, id int64, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update queue entry %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("queue entry %d: %w", id, crawler.ErrNotFound)
	}
	return nil
}

// Stats groups entries by status.
func (s *Store) Stats(ctx context.Context) ([]crawler.QueueStatusCount, error) {
	rows, err := s.pool.Query(ctx, `
SELECT status, COUNT(*)::int, COALESCE(SUM(books_found), 0)::int, COALESCE(SUM(books_saved), 0)::int
FROM url_queue
GROUP BY status
ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var out []crawler.QueueStatusCount
	for rows.Next() {
		var (
			c      crawler.QueueStatusCount
			status string
		)
		if err := rows.Scan(&status, &c.Count, &c.ItemsFound, &c.ItemsSaved); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		c.Status = crawler.QueueStatus(status)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue stats: %w", err)
	}
	return out, nil
}

// ResetFailed puts failed entries back to pending with a fresh retry budget.
func (s *Store) ResetFailed(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE url_queue
SET status = 'pending', retry_count = 0, error_message = NULL, completed_at = NULL, updated_at = $1
WHERE status = 'failed'`, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("reset failed entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanEntry(row pgx.Row) (crawler.QueueEntry, error) {
	var (
		e            crawler.QueueEntry
		kind, status string
	)
	if err := row.Scan(
		&e.ID, &e.URL, &kind, &e.Priority, &status, &e.RetryCount, &e.MaxRetries, &e.ErrorMessage,
		&e.ItemsFound, &e.ItemsSaved, &e.ProcessingStartedAt, &e.CompletedAt, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return crawler.QueueEntry{}, err
	}
	e.Kind = crawler.URLKind(kind)
	e.Status = crawler.QueueStatus(status)
	return e, nil
}
