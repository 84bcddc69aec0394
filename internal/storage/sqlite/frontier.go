package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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
	now := formatTime(s.clock.Now())
	res, err := s.db.ExecContext(ctx, `
INSERT INTO url_queue (url, url_type, priority, status, retry_count, max_retries, created_at, updated_at)
VALUES (?, ?, ?, 'pending', 0, ?, ?, ?)
ON CONFLICT(url) DO NOTHING`,
		url, string(kind), priority, s.maxRetries, now, now)
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", url, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue rows affected: %w", err)
	}
	return n > 0, nil
}

// DequeueNext claims the next eligible entry in a single UPDATE ... RETURNING
// statement, so two callers can never receive the same row.
func (s *Store) DequeueNext(ctx context.Context) (crawler.QueueEntry, bool, error) {
	now := formatTime(s.clock.Now())
	row := s.db.QueryRowContext(ctx, `
UPDATE url_queue
SET status = 'processing', processing_started_at = ?, updated_at = ?
WHERE id = (
	SELECT id FROM url_queue
	WHERE status IN ('pending', 'retry') AND retry_count < max_retries
	ORDER BY priority DESC, created_at ASC, id ASC
	LIMIT 1
)
AND status IN ('pending', 'retry')
RETURNING `+queueColumns, now, now)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.QueueEntry{}, false, nil
	}
	if err != nil {
		return crawler.QueueEntry{}, false, fmt.Errorf("dequeue: %w", err)
	}
	return entry, true, nil
}

// MarkCompleted records a successful visit.
func (s *Store) MarkCompleted(ctx context.Context, id int64, itemsFound, itemsSaved int) error {
	now := formatTime(s.clock.Now())
	return s.updateEntry(ctx, id, `
UPDATE url_queue
SET status = 'completed', books_found = ?, books_saved = ?, error_message = NULL,
	completed_at = ?, updated_at = ?
WHERE id = ?`, itemsFound, itemsSaved, now, now, id)
}

// MarkFailed moves the entry to its terminal failed state.
func (s *Store) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	now := formatTime(s.clock.Now())
	return s.updateEntry(ctx, id, `
UPDATE url_queue
SET status = 'failed', error_message = ?, completed_at = ?, updated_at = ?
WHERE id = ?`, errMsg, now, now, id)
}

// MarkRetry returns the entry to the pool and bumps its retry count.
func (s *Store) MarkRetry(ctx context.Context, id int64, errMsg string) error {
	now := formatTime(s.clock.Now())
	return s.updateEntry(ctx, id, `
UPDATE url_queue
SET status = 'retry', retry_count = retry_count + 1, error_message = ?, updated_at = ?
WHERE id = ?`, errMsg, now, id)
}

func (s *Store) updateEntry(ctx context.Context, id int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update queue entry %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update queue entry rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("queue entry %d: %w", id, crawler.ErrNotFound)
	}
	return nil
}

// Stats groups entries by status.
func (s *Store) Stats(ctx context.Context) ([]crawler.QueueStatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT status, COUNT(*), COALESCE(SUM(books_found), 0), COALESCE(SUM(books_saved), 0)
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
	res, err := s.db.ExecContext(ctx, `
UPDATE url_queue
SET status = 'pending', retry_count = 0, error_message = NULL, completed_at = NULL, updated_at = ?
WHERE status = 'failed'`, formatTime(s.clock.Now()))
	if err != nil {
		return 0, fmt.Errorf("reset failed entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset failed rows affected: %w", err)
	}
	return n, nil
}

// EntryByURL loads a single queue entry.
func (s *Store) EntryByURL(ctx context.Context, url string) (crawler.QueueEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM url_queue WHERE url = ?`, url)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.QueueEntry{}, fmt.Errorf("queue entry %s: %w", url, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.QueueEntry{}, fmt.Errorf("load queue entry: %w", err)
	}
	return entry, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (crawler.QueueEntry, error) {
	var (
		e                   crawler.QueueEntry
		kind, status        string
		errMsg              sql.NullString
		started, completed  sql.NullString
		createdAt, updateAt string
	)
	if err := row.Scan(
		&e.ID, &e.URL, &kind, &e.Priority, &status, &e.RetryCount, &e.MaxRetries, &errMsg,
		&e.ItemsFound, &e.ItemsSaved, &started, &completed, &createdAt, &updateAt,
	); err != nil {
		return crawler.QueueEntry{}, err
	}
	e.Kind = crawler.URLKind(kind)
	e.Status = crawler.QueueStatus(status)
	if errMsg.Valid {
		msg := errMsg.String
		e.ErrorMessage = &msg
	}
	var err error
	if e.ProcessingStartedAt, err = parseNullTime(started); err != nil {
		return crawler.QueueEntry{}, err
	}
	if e.CompletedAt, err = parseNullTime(completed); err != nil {
		return crawler.QueueEntry{}, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return crawler.QueueEntry{}, err
	}
	if e.UpdatedAt, err = parseTime(updateAt); err != nil {
		return crawler.QueueEntry{}, err
	}
	return e, nil
}
