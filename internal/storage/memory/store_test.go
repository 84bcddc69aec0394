package memory

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
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestStore() *Store {
	return NewStore(&stepClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)})
}

func TestEnqueueIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ctx := context.Background()

	created, err := s.Enqueue(ctx, "https://grqaser.org/books", crawler.KindListingPage, 10)
	require.NoError(t, err)
	require.True(t, created)

	created, err = s.Enqueue(ctx, "https://grqaser.org/books", crawler.KindBookDetail, 1)
	require.NoError(t, err)
	require.False(t, created)

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, crawler.KindListingPage, entries[0].Kind)
	assert.Equal(t, 10, entries[0].Priority)
	assert.Equal(t, crawler.DefaultMaxRetries, entries[0].MaxRetries)

	_, err = s.Enqueue(ctx, "https://grqaser.org/sitemap.xml", crawler.URLKind("sitemap"), 1)
	require.ErrorIs(t, err, crawler.ErrInvalidKind)
	assert.Len(t, s.Entries(), 1)
}

func TestDequeuePriorityOrder(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ctx := context.Background()
	_, err := s.Enqueue(ctx, "https://grqaser.org/p5", crawler.KindListingPage, 5)
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, "https://grqaser.org/p10", crawler.KindListingPage, 10)
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, "https://grqaser.org/p8", crawler.KindListingPage, 8)
	require.NoError(t, err)

	var got []int
	for {
		e, ok, err := s.DequeueNext(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		assert.Equal(t, crawler.StatusProcessing, e.Status)
		assert.NotNil(t, e.ProcessingStartedAt)
		got = append(got, e.Priority)
	}
	assert.Equal(t, []int{10, 8, 5}, got)
}

func TestDequeueFIFOWithinPriority(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ctx := context.Background()
	for _, u := range []string{"https://a.test/1", "https://a.test/2", "https://a.test/3"} {
		_, err := s.Enqueue(ctx, u, crawler.KindBookDetail, 5)
		require.NoError(t, err)
	}
	first, ok, err := s.DequeueNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://a.test/1", first.URL)
}

func TestConcurrentDequeueClaimsEachEntryOnce(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ctx := context.Background()
	const n = 40
	for i := 0; i < n; i++ {
		_, err := s.Enqueue(ctx, fmt.Sprintf("https://a.test/%d", i), crawler.KindBookDetail, i%4)
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[int64]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
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
	for id, count := range claimed {
		assert.Equal(t, 1, count, "entry %d claimed more than once", id)
	}
}

func TestRetryLifecycleAndExhaustion(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ctx := context.Background()
	_, err := s.Enqueue(ctx, "https://a.test/flaky", crawler.KindBookDetail, 5)
	require.NoError(t, err)

	for i := 1; i <= crawler.DefaultMaxRetries; i++ {
		e, ok, err := s.DequeueNext(ctx)
		require.NoError(t, err)
		require.True(t, ok, "attempt %d", i)
		require.NoError(t, s.MarkRetry(ctx, e.ID, "timeout"))
	}

	_, ok, err := s.DequeueNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "entry with exhausted retries must not be dequeued")

	e, found := s.Entry("https://a.test/flaky")
	require.True(t, found)
	assert.Equal(t, crawler.StatusRetry, e.Status)
	assert.Equal(t, 3, e.RetryCount)
	require.NotNil(t, e.ErrorMessage)
	assert.Equal(t, "timeout", *e.ErrorMessage)
}

func TestMarkCompletedAndFailed(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ctx := context.Background()
	_, err := s.Enqueue(ctx, "https://a.test/ok", crawler.KindListingPage, 1)
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, "https://a.test/gone", crawler.KindBookDetail, 1)
	require.NoError(t, err)

	ok1, _ := s.Entry("https://a.test/ok")
	gone, _ := s.Entry("https://a.test/gone")
	require.NoError(t, s.MarkCompleted(ctx, ok1.ID, 4, 3))
	require.NoError(t, s.MarkFailed(ctx, gone.ID, "not found"))
	require.ErrorIs(t, s.MarkCompleted(ctx, 999, 0, 0), crawler.ErrNotFound)

	done, _ := s.Entry("https://a.test/ok")
	assert.Equal(t, crawler.StatusCompleted, done.Status)
	assert.Equal(t, 4, done.ItemsFound)
	assert.Equal(t, 3, done.ItemsSaved)
	assert.NotNil(t, done.CompletedAt)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []crawler.QueueStatusCount{
		{Status: crawler.StatusCompleted, Count: 1, ItemsFound: 4, ItemsSaved: 3},
		{Status: crawler.StatusFailed, Count: 1},
	}, stats)

	n, err := s.ResetFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	reset, _ := s.Entry("https://a.test/gone")
	assert.Equal(t, crawler.StatusPending, reset.Status)
	assert.Nil(t, reset.ErrorMessage)
}

func TestUpsertBookIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ctx := context.Background()
	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := crawler.BookRecord{ID: "7", Title: "First", Author: "A", MainAudioURL: "https://m.test/7.mp3", DurationSeconds: 60, CreatedAt: first, UpdatedAt: first}
	require.NoError(t, s.UpsertBook(ctx, rec))

	rec.Title = "Second"
	rec.CreatedAt = first.Add(time.Hour)
	rec.UpdatedAt = first.Add(time.Hour)
	require.NoError(t, s.UpsertBook(ctx, rec))

	assert.Equal(t, 1, s.BookCount())
	got, err := s.GetBook(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, "Second", got.Title)
	assert.Equal(t, first, got.CreatedAt)
	assert.Equal(t, first.Add(time.Hour), got.UpdatedAt)

	_, err = s.GetBook(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestBooksNeedingRepairAndPurge(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ctx := context.Background()
	books := []crawler.BookRecord{
		{ID: "1", Title: "Good", Author: "A", CoverImageURL: "https://c/1", MainAudioURL: "https://m/1.mp3", DurationSeconds: 10, ChapterURLs: []string{}, CrawlStatus: crawler.CrawlCompleted},
		{ID: "2", Title: "NoAuthor", Author: crawler.UnknownAuthor, CoverImageURL: "https://c/2", MainAudioURL: "https://m/2.mp3", DurationSeconds: 10, ChapterURLs: []string{}, CrawlStatus: crawler.CrawlCompleted},
		{ID: "3", Title: "Bundle", Author: "B", CoverImageURL: "https://c/3", MainAudioURL: "https://m/download-all/3", DurationSeconds: 10, ChapterURLs: []string{}, CrawlStatus: crawler.CrawlCompleted},
		{ID: "4", Title: "NoAudio", Author: "C", CoverImageURL: "https://c/4", DurationSeconds: 0, ChapterURLs: []string{}, CrawlStatus: crawler.CrawlCompleted},
	}
	for _, b := range books {
		require.NoError(t, s.UpsertBook(ctx, b))
	}

	all := crawler.RepairCriteria{MissingAudio: true, UnknownAuthor: true, MissingCover: true, BundleAudio: true, MissingChapters: true, IncompleteStatus: true}
	got, err := s.BooksNeedingRepair(ctx, all)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
	assert.Equal(t, "4", got[2].ID)

	all.Limit = 1
	got, err = s.BooksNeedingRepair(ctx, all)
	require.NoError(t, err)
	require.Len(t, got, 1)

	n, err := s.PurgeNonAudio(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	keys, err := s.ListBookKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestAppendLog(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	require.NoError(t, s.AppendLog(context.Background(), crawler.LogEntry{Level: crawler.LevelInfo, Message: "hello"}))
	logs := s.Logs()
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Timestamp.IsZero())
}

func TestWithMaxRetries(t *testing.T) {
	t.Parallel()

	s := NewStore(nil, WithMaxRetries(5))
	_, err := s.Enqueue(context.Background(), "https://a.test/x", crawler.KindBookDetail, 1)
	require.NoError(t, err)
	e, ok := s.Entry("https://a.test/x")
	require.True(t, ok)
	assert.Equal(t, 5, e.MaxRetries)
}
