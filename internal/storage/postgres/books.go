package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
)

const bookColumns = `id, title, author, description, duration, duration_formatted, language, category,
	rating, cover_image_url, main_audio_url, download_url, chapter_urls, has_chapters, chapter_count,
	crawl_status, created_at, updated_at`

// UpsertBook inserts the book or overwrites every field except created_at.
func (s *Store) UpsertBook(ctx context.Context, r crawler.BookRecord) error {
	if r.ID == "" {
		return fmt.Errorf("upsert book: id is required")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO books (`+bookColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	author = EXCLUDED.author,
	description = EXCLUDED.description,
	duration = EXCLUDED.duration,
	duration_formatted = EXCLUDED.duration_formatted,
	language = EXCLUDED.language,
	category = EXCLUDED.category,
	rating = EXCLUDED.rating,
	cover_image_url = EXCLUDED.cover_image_url,
	main_audio_url = EXCLUDED.main_audio_url,
	download_url = EXCLUDED.download_url,
	chapter_urls = EXCLUDED.chapter_urls,
	has_chapters = EXCLUDED.has_chapters,
	chapter_count = EXCLUDED.chapter_count,
	crawl_status = EXCLUDED.crawl_status,
	updated_at = EXCLUDED.updated_at`,
		r.ID, r.Title, r.Author, r.Description, r.DurationSeconds, r.DurationFormatted, r.Language, r.Category,
		r.Rating, r.CoverImageURL, r.MainAudioURL, r.DownloadURL, r.ChapterURLs, r.HasChapters, r.ChapterCount,
		string(r.CrawlStatus), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert book %s: %w", r.ID, err)
	}
	return nil
}

// GetBook loads one book or returns crawler.ErrNotFound.
func (s *Store) GetBook(ctx context.Context, id string) (crawler.BookRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id)
	rec, err := scanBook(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.BookRecord{}, fmt.Errorf("book %s: %w", id, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.BookRecord{}, fmt.Errorf("load book %s: %w", id, err)
	}
	return rec, nil
}

// ListBookKeys returns the identity of every stored book.
func (s *Store) ListBookKeys(ctx context.Context) ([]crawler.BookKey, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, title, author FROM books ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list book keys: %w", err)
	}
	defer rows.Close()
	var keys []crawler.BookKey
	for rows.Next() {
		var k crawler.BookKey
		if err := rows.Scan(&k.ID, &k.Title, &k.Author); err != nil {
			return nil, fmt.Errorf("scan book key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate book keys: %w", err)
	}
	return keys, nil
}

// BooksNeedingRepair returns books matching any enabled criterion, ordered by id.
func (s *Store) BooksNeedingRepair(ctx context.Context, criteria crawler.RepairCriteria) ([]crawler.BookRecord, error) {
	where, args := repairClause(criteria)
	if where == "" {
		return nil, nil
	}
	query := `SELECT ` + bookColumns + ` FROM books WHERE ` + where + ` ORDER BY id`
	if criteria.Limit > 0 {
		args = append(args, criteria.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select books needing repair: %w", err)
	}
	defer rows.Close()
	var out []crawler.BookRecord
	for rows.Next() {
		rec, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate books: %w", err)
	}
	return out, nil
}

func repairClause(c crawler.RepairCriteria) (string, []any) {
	var (
		parts []string
		args  []any
	)
	bind := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if c.MissingAudio {
		parts = append(parts, "main_audio_url = ''")
	}
	if c.UnknownAuthor {
		parts = append(parts, "author = "+bind(crawler.UnknownAuthor))
	}
	if c.MissingCover {
		parts = append(parts, "cover_image_url = ''")
	}
	if c.BundleAudio {
		parts = append(parts, "main_audio_url LIKE "+bind("%"+crawler.BundleAudioMarker+"%"))
	}
	if c.MissingChapters {
		parts = append(parts, "chapter_urls IS NULL")
	}
	if c.IncompleteStatus {
		parts = append(parts, "crawl_status <> "+bind(string(crawler.CrawlCompleted)))
	}
	return strings.Join(parts, " OR "), args
}

// PurgeNonAudio deletes books with no audio URL or no duration.
func (s *Store) PurgeNonAudio(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM books WHERE main_audio_url = '' OR duration <= 0`)
	if err != nil {
		return 0, fmt.Errorf("purge non-audio books: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanBook(row pgx.Row) (crawler.BookRecord, error) {
	var (
		r      crawler.BookRecord
		status string
	)
	if err := row.Scan(
		&r.ID, &r.Title, &r.Author, &r.Description, &r.DurationSeconds, &r.DurationFormatted, &r.Language, &r.Category,
		&r.Rating, &r.CoverImageURL, &r.MainAudioURL, &r.DownloadURL, &r.ChapterURLs, &r.HasChapters, &r.ChapterCount,
		&status, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return crawler.BookRecord{}, err
	}
	r.CrawlStatus = crawler.CrawlStatus(status)
	return r, nil
}
