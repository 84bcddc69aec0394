package sqlite

import (
	"context"
	"fmt"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
)

// AppendLog writes one run log row.
func (s *Store) AppendLog(ctx context.Context, e crawler.LogEntry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = s.clock.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO crawl_logs (level, message, book_id, url, error_details, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		string(e.Level), e.Message, nullStringPtr(e.BookID), nullStringPtr(e.URL), nullStringPtr(e.ErrorDetails), formatTime(ts))
	if err != nil {
		return fmt.Errorf("append crawl log: %w", err)
	}
	return nil
}

// CountLogs returns the number of run log rows at level, or all rows when
// level is empty.
func (s *Store) CountLogs(ctx context.Context, level crawler.LogLevel) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM crawl_logs WHERE ? = '' OR level = ?`,
		string(level), string(level)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count crawl logs: %w", err)
	}
	return n, nil
}
