package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

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
	chapters, err := encodeChapters(r.ChapterURLs)
	if err != nil {
		return err
	}
	var rating sql.NullFloat64
	if r.Rating != nil {
		rating = sql.NullFloat64{Float64: *r.Rating, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO books (`+bookColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	title = excluded.title,
	author = excluded.author,
	description = excluded.description,
	duration = excluded.duration,
	duration_formatted = excluded.duration_formatted,
	language = excluded.language,
	category = excluded.category,
	rating = excluded.rating,
	cover_image_url = excluded.cover_image_url,
	main_audio_url = excluded.main_audio_url,
	download_url = excluded.download_url,
	chapter_urls = excluded.chapter_urls,
	has_chapters = excluded.has_chapters,
	chapter_count = excluded.chapter_count,
	crawl_status = excluded.crawl_status,
	updated_at = excluded.updated_at`,
		r.ID, r.Title, r.Author, r.Description, r.DurationSeconds, r.DurationFormatted, r.Language, r.Category,
		rating, r.CoverImageURL, r.MainAudioURL, r.DownloadURL, chapters, r.HasChapters, r.ChapterCount,
		string(r.CrawlStatus), formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert book %s: %w", r.ID, err)
	}
	return nil
}

// GetBook loads one book or returns crawler.ErrNotFound.
func (s *Store) GetBook(ctx context.Context, id string) (crawler.BookRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id)
	rec, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.BookRecord{}, fmt.Errorf("book %s: %w", id, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.BookRecord{}, fmt.Errorf("load book %s: %w", id, err)
	}
	return rec, nil
}

// ListBookKeys returns the identity of every stored book.
func (s *Store) ListBookKeys(ctx context.Context) ([]crawler.BookKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, author FROM books ORDER BY id`)
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
		query += ` LIMIT ?`
		args = append(args, criteria.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
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
	if c.MissingAudio {
		parts = append(parts, "main_audio_url = ''")
	}
	if c.UnknownAuthor {
		parts = append(parts, "author = ?")
		args = append(args, crawler.UnknownAuthor)
	}
	if c.MissingCover {
		parts = append(parts, "cover_image_url = ''")
	}
	if c.BundleAudio {
		parts = append(parts, "main_audio_url LIKE ?")
		args = append(args, "%"+crawler.BundleAudioMarker+"%")
	}
	if c.MissingChapters {
		parts = append(parts, "chapter_urls IS NULL")
	}
	if c.IncompleteStatus {
		parts = append(parts, "crawl_status != ?")
		args = append(args, string(crawler.CrawlCompleted))
	}
	return strings.Join(parts, " OR "), args
}

// PurgeNonAudio deletes books with no audio URL or no duration.
func (s *Store) PurgeNonAudio(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE main_audio_url = '' OR duration <= 0`)
	if err != nil {
		return 0, fmt.Errorf("purge non-audio books: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return n, nil
}

func scanBook(row rowScanner) (crawler.BookRecord, error) {
	var (
		r                    crawler.BookRecord
		rating               sql.NullFloat64
		chapters             sql.NullString
		status               string
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&r.ID, &r.Title, &r.Author, &r.Description, &r.DurationSeconds, &r.DurationFormatted, &r.Language, &r.Category,
		&rating, &r.CoverImageURL, &r.MainAudioURL, &r.DownloadURL, &chapters, &r.HasChapters, &r.ChapterCount,
		&status, &createdAt, &updatedAt,
	); err != nil {
		return crawler.BookRecord{}, err
	}
	if rating.Valid {
		v := rating.Float64
		r.Rating = &v
	}
	if chapters.Valid {
		if err := json.Unmarshal([]byte(chapters.String), &r.ChapterURLs); err != nil {
			return crawler.BookRecord{}, fmt.Errorf("decode chapter_urls: %w", err)
		}
		if r.ChapterURLs == nil {
			r.ChapterURLs = []string{}
		}
	}
	r.CrawlStatus = crawler.CrawlStatus(status)
	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return crawler.BookRecord{}, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return crawler.BookRecord{}, err
	}
	return r, nil
}

func encodeChapters(urls []string) (sql.NullString, error) {
	if urls == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(urls)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode chapter_urls: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}
