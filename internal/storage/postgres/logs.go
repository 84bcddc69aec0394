package postgres

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
	_, err := s.pool.Exec(ctx, `
INSERT INTO crawl_logs (level, message, book_id, url, error_details, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.Level), e.Message, e.BookID, e.URL, e.ErrorDetails, ts)
	if err != nil {
		return fmt.Errorf("append crawl log: %w", err)
	}
	return nil
}
