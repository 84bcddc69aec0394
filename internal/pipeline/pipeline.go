// Package pipeline turns raw extracted book fields into validated records.
// Everything here is pure: no I/O, no shared state.
package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
	"github.com/JakeFAU/grqaser-crawler/internal/id/uuid"
)

// Defaults applied to absent fields.
const (
	DefaultAuthor   = crawler.UnknownAuthor
	DefaultCategory = "Unknown"
	DefaultLanguage = "hy"
	minTitleRunes   = 3
)

// RejectReason is a stable code explaining why a candidate was not accepted.
type RejectReason string

// Reject reasons.
const (
	RejectMissingIdentity  RejectReason = "missing-identity"
	RejectInvalidDuration  RejectReason = "invalid-duration"
	RejectMissingAudio     RejectReason = "missing-audio"
	RejectInvalidAudioURL  RejectReason = "invalid-audio-url"
	RejectTitleTooShort    RejectReason = "title-too-short"
	RejectPlaceholderTitle RejectReason = "placeholder-title"
)

// Rejection describes a candidate the pipeline refused.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

var (
	placeholderTitle = regexp.MustCompile(`(?i)^book\s+\d+$`)
	ratingPattern    = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	ids              = uuid.New()
)

// Normalize validates c and returns the canonical record, or a Rejection.
func Normalize(c crawler.BookCandidate, now time.Time) (crawler.BookRecord, *Rejection) {
	title := CleanText(c.Title)
	author := CleanText(c.Author)
	if author == "" {
		author = DefaultAuthor
	}
	category := CleanText(c.Category)
	if category == "" {
		category = DefaultCategory
	}
	language := strings.ToLower(CleanText(c.Language))
	if language == "" {
		language = DefaultLanguage
	}

	seconds, err := ParseDuration(c.Duration)
	if err != nil {
		return crawler.BookRecord{}, &Rejection{Reason: RejectInvalidDuration, Detail: err.Error()}
	}
	if seconds <= 0 {
		return crawler.BookRecord{}, &Rejection{Reason: RejectInvalidDuration, Detail: "zero duration"}
	}

	if strings.TrimSpace(c.MainAudioURL) == "" {
		return crawler.BookRecord{}, &Rejection{Reason: RejectMissingAudio}
	}
	mainAudio, ok := ValidHTTPURL(c.MainAudioURL)
	if !ok {
		return crawler.BookRecord{}, &Rejection{Reason: RejectInvalidAudioURL, Detail: c.MainAudioURL}
	}

	download, _ := ValidHTTPURL(c.DownloadURL)
	cover, _ := ValidHTTPURL(c.CoverImageURL)
	chapters, _ := FilterHTTPURLs(c.ChapterURLs)
	if chapters == nil {
		// an empty list records that chapters were looked for
		chapters = []string{}
	}

	if utf8.RuneCountInString(title) < minTitleRunes {
		return crawler.BookRecord{}, &Rejection{Reason: RejectTitleTooShort, Detail: title}
	}
	if placeholderTitle.MatchString(title) {
		return crawler.BookRecord{}, &Rejection{Reason: RejectPlaceholderTitle, Detail: title}
	}

	id := BookID(c)
	if id == "" {
		return crawler.BookRecord{}, &Rejection{Reason: RejectMissingIdentity}
	}

	chapterCount := len(chapters)
	if chapterCount == 0 {
		chapterCount = 1
	}
	status := crawler.CrawlDiscovered
	if cover != "" && author != DefaultAuthor {
		status = crawler.CrawlCompleted
	}

	return crawler.BookRecord{
		ID:                id,
		Title:             title,
		Author:            author,
		Description:       CleanText(c.Description),
		DurationSeconds:   seconds,
		DurationFormatted: FormatDuration(seconds),
		Language:          language,
		Category:          category,
		Rating:            parseRating(c.Rating),
		CoverImageURL:     cover,
		MainAudioURL:      mainAudio,
		DownloadURL:       download,
		ChapterURLs:       chapters,
		HasChapters:       len(chapters) > 1,
		ChapterCount:      chapterCount,
		CrawlStatus:       status,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// BookID returns the candidate's explicit id, else the numeric id embedded in
// its source URL, else a UUIDv5 of the source URL. It is empty only when the
// candidate has neither an id nor a source URL.
func BookID(c crawler.BookCandidate) string {
	if id := strings.TrimSpace(c.ID); id != "" {
		return id
	}
	src := strings.TrimSpace(c.SourceURL)
	if src == "" {
		return ""
	}
	if id, ok := crawler.BookIDFromURL(src); ok {
		return id
	}
	return ids.BookID(src)
}

func parseRating(raw string) *float64 {
	m := ratingPattern.FindString(raw)
	if m == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
	if err != nil {
		return nil
	}
	return &v
}
