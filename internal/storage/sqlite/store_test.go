package sqlite

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	clock := &stepClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s, err := Open(context.Background(), Config{Path: ":memory:"}, clock)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{}, &stepClock{})
	require.Error(t, err)
}

func TestMigrateIsRepeatable(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Migrate())
}

func TestEnqueueIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.Enqueue(ctx, "https://grqaser.org/books", crawler.KindListingPage, 10)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Enqueue(ctx, "https://grqaser.org/books", crawler.KindListingPage, 3)
	require.NoError(t, err)
	assert.False(t, created)

	e, err := s.EntryByURL(ctx, "https://grqaser.org/books")
	require.NoError(t, err)
	assert.Equal(t, 10, e.Priority)
	assert.Equal(t, crawler.StatusPending, e.Status)
	assert.Equal(t, crawler.DefaultMaxRetries, e.MaxRetries)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].Count)

	_, err = s.Enqueue(ctx, "https://grqaser.org/sitemap.xml", crawler.URLKind("sitemap"), 1)
	require.ErrorIs(t, err, crawler.ErrInvalidKind)
}

func TestDequeuePriorityOrder(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	for _, p := range []int{5, 10, 8} {
		_, err := s.Enqueue(ctx, fmt.Sprintf("https://grqaser.org/p%d", p), crawler.KindListingPage, p)
		require.NoError(t, err)
	}

	var got []int
	for {
		e, ok, err := s.DequeueNext(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		assert.Equal(t, crawler.StatusProcessing, e.Status)
		require.NotNil(t, e.ProcessingStartedAt)
		got = append(got, e.Priority)
	}
	assert.Equal(t, []int{10, 8, 5}, got)
}

func TestConcurrentDequeueClaimsEachEntryOnce(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	const n = 30
	for i := 0; i < n; i++ {
		_, err := s.Enqueue(ctx, fmt.Sprintf("https://a.test/%d", i), crawler.KindBookDetail, i%3)
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[int64]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				e, ok, err := s.DequeueNext(ctx)
				if err != nil || !ok {
					return
				}
				mu.Lock()
				claimed[e.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, claimed, n)
	for id, c := range claimed {
		assert.Equal(t, 1, c, "entry %d", id)
	}
}

func TestRetryExhaustion(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Enqueue(ctx, "https://a.test/flaky", crawler.KindBookDetail, 5)
	require.NoError(t, err)

	for i := 0; i < crawler.DefaultMaxRetries; i++ {
		e, ok, err := s.DequeueNext(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, s.MarkRetry(ctx, e.ID, "502 bad gateway"))
	}
	_, ok, err := s.DequeueNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	e, err := s.EntryByURL(ctx, "https://a.test/flaky")
	require.NoError(t, err)
	assert.Equal(t, 3, e.RetryCount)
	require.NotNil(t, e.ErrorMessage)
	assert.Equal(t, "502 bad gateway", *e.ErrorMessage)
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Enqueue(ctx, "https://a.test/ok", crawler.KindListingPage, 1)
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, "https://a.test/gone", crawler.KindBookDetail, 1)
	require.NoError(t, err)

	okEntry, err := s.EntryByURL(ctx, "https://a.test/ok")
	require.NoError(t, err)
	gone, err := s.EntryByURL(ctx, "https://a.test/gone")
	require.NoError(t, err)

	require.NoError(t, s.MarkCompleted(ctx, okEntry.ID, 6, 4))
	require.NoError(t, s.MarkFailed(ctx, gone.ID, "not found"))
	require.ErrorIs(t, s.MarkFailed(ctx, 12345, "x"), crawler.ErrNotFound)

	done, err := s.EntryByURL(ctx, "https://a.test/ok")
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusCompleted, done.Status)
	assert.Equal(t, 6, done.ItemsFound)
	assert.Equal(t, 4, done.ItemsSaved)
	assert.NotNil(t, done.CompletedAt)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []crawler.QueueStatusCount{
		{Status: crawler.StatusCompleted, Count: 1, ItemsFound: 6, ItemsSaved: 4},
		{Status: crawler.StatusFailed, Count: 1},
	}, stats)

	n, err := s.ResetFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, ok, err := s.DequeueNext(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func sampleBook(id string) crawler.BookRecord {
	rating := 4.5
	ts := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	return crawler.BookRecord{
		ID:                id,
		Title:             "Title " + id,
		Author:            "Author",
		Description:       "desc",
		DurationSeconds:   5400,
		DurationFormatted: "1ժ 30ր",
		Language:          "hy",
		Category:          "Novel",
		Rating:            &rating,
		CoverImageURL:     "https://grqaser.org/c/" + id + ".jpg",
		MainAudioURL:      "https://media.grqaser.org/" + id + ".mp3",
		ChapterURLs:       []string{"https://media.grqaser.org/" + id + "/1.mp3", "https://media.grqaser.org/" + id + "/2.mp3"},
		HasChapters:       true,
		ChapterCount:      2,
		CrawlStatus:       crawler.CrawlCompleted,
		CreatedAt:         ts,
		UpdatedAt:         ts,
	}
}

func TestUpsertBookIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	rec := sampleBook("42")
	require.NoError(t, s.UpsertBook(ctx, rec))

	updated := rec
	updated.Title = "Renamed"
	updated.CreatedAt = rec.CreatedAt.Add(time.Hour)
	updated.UpdatedAt = rec.UpdatedAt.Add(time.Hour)
	require.NoError(t, s.UpsertBook(ctx, updated))

	keys, err := s.ListBookKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	got, err := s.GetBook(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, rec.CreatedAt, got.CreatedAt)
	assert.Equal(t, updated.UpdatedAt, got.UpdatedAt)
	assert.Equal(t, rec.ChapterURLs, got.ChapterURLs)
	assert.True(t, got.HasChapters)
	require.NotNil(t, got.Rating)
	assert.InDelta(t, 4.5, *got.Rating, 0.0001)

	_, err = s.GetBook(ctx, "nope")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestBooksNeedingRepairAndPurge(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	good := sampleBook("1")
	unknown := sampleBook("2")
	unknown.Author = crawler.UnknownAuthor
	bundle := sampleBook("3")
	bundle.MainAudioURL = "https://grqaser.org/download-all/3"
	noChapters := sampleBook("4")
	noChapters.ChapterURLs = nil
	noAudio := sampleBook("5")
	noAudio.MainAudioURL = ""
	for _, b := range []crawler.BookRecord{good, unknown, bundle, noChapters, noAudio} {
		require.NoError(t, s.UpsertBook(ctx, b))
	}

	got, err := s.BooksNeedingRepair(ctx, crawler.RepairCriteria{
		MissingAudio: true, UnknownAuthor: true, MissingCover: true,
		BundleAudio: true, MissingChapters: true, IncompleteStatus: true,
	})
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, b := range got {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, []string{"2", "3", "4", "5"}, ids)

	got, err = s.BooksNeedingRepair(ctx, crawler.RepairCriteria{UnknownAuthor: true, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)

	got, err = s.BooksNeedingRepair(ctx, crawler.RepairCriteria{})
	require.NoError(t, err)
	assert.Empty(t, got)

	n, err := s.PurgeNonAudio(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAppendLog(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	url := "https://a.test/1"
	require.NoError(t, s.AppendLog(ctx, crawler.LogEntry{Level: crawler.LevelWarn, Message: "rejected", URL: &url}))
	require.NoError(t, s.AppendLog(ctx, crawler.LogEntry{Level: crawler.LevelInfo, Message: "saved"}))

	n, err := s.CountLogs(ctx, crawler.LevelWarn)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.CountLogs(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
