package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, FailureNone, Classify(nil))
	assert.Equal(t, FailureNotFound, Classify(fmt.Errorf("fetch: %w", ErrNotFound)))
	assert.Equal(t, FailurePermanent, Classify(Permanent(errors.New("bad request"))))
	assert.Equal(t, FailurePermanent, Classify(fmt.Errorf("resolve: %w", ErrInvalidURL)))
	assert.Equal(t, FailureTransient, Classify(errors.New("connection reset")))
}

func TestPersistenceErrorUnwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("database is locked")
	err := fmt.Errorf("item: %w", &PersistenceError{Op: "upsert book", Err: cause})
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "upsert book", pe.Op)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "persistence upsert book: database is locked", pe.Error())
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(time.Millisecond)
	assert.False(t, p.ShouldRetry(nil))
	assert.False(t, p.ShouldRetry(context.Canceled))
	assert.False(t, p.ShouldRetry(ErrNotFound))
	assert.True(t, p.ShouldRetry(errors.New("timeout")))
}

func TestBackoffBounds(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	p := NewExponentialRetryPolicy(base)
	for attempt, want := range map[int]time.Duration{
		0:  base,
		2:  4 * base,
		10: 1024 * base,
		25: 1024 * base,
	} {
		got := p.Backoff(attempt)
		require.GreaterOrEqual(t, got, want, "attempt %d", attempt)
		require.Less(t, got, want+time.Duration(float64(want)*0.3)+time.Nanosecond, "attempt %d", attempt)
	}
}

func TestBackoffDefaultBase(t *testing.T) {
	t.Parallel()

	got := NewExponentialRetryPolicy(0).Backoff(0)
	require.GreaterOrEqual(t, got, time.Second)
}

func TestQueueEntryEligibility(t *testing.T) {
	t.Parallel()

	e := QueueEntry{Status: StatusRetry, RetryCount: 2, MaxRetries: 3}
	assert.True(t, e.Eligible())
	assert.False(t, e.RetriesLeft())

	e.RetryCount = 3
	assert.False(t, e.Eligible())

	e = QueueEntry{Status: StatusProcessing, MaxRetries: 3}
	assert.False(t, e.Eligible())
	assert.True(t, e.RetriesLeft())
}

func TestTitleAuthorKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, TitleAuthorKey("  The  Book ", "AUTHOR name"), TitleAuthorKey("the book", "author   name"))
	assert.NotEqual(t, TitleAuthorKey("a", "b"), TitleAuthorKey("a", "c"))
}

func TestParseURLKind(t *testing.T) {
	t.Parallel()

	k, ok := ParseURLKind("page")
	require.True(t, ok)
	assert.Equal(t, KindListingPage, k)
	k, ok = ParseURLKind("book_detail")
	require.True(t, ok)
	assert.Equal(t, KindBookDetail, k)
	assert.False(t, KindBookDetail.IsListing())
	assert.True(t, KindCategory.IsListing())
	_, ok = ParseURLKind("video")
	assert.False(t, ok)
}
