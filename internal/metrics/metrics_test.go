package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://Grqaser.org/books/1", "grqaser.org"},
		{"no scheme", "grqaser.org/books", "grqaser.org"},
		{"host with port", "grqaser.org:8080", "grqaser.org"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := crawlerPagesTotal
	Init()
	assert.Same(t, first, crawlerPagesTotal)
}

func TestObserveHelpers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(crawlerBooksRejectedTotal.WithLabelValues("title-too-short"))
	ObserveRejection("title-too-short")
	assert.InDelta(t, before+1, testutil.ToFloat64(crawlerBooksRejectedTotal.WithLabelValues("title-too-short")), 0.001)

	before = testutil.ToFloat64(crawlerQueueTransitionsTotal.WithLabelValues("retry"))
	ObserveQueueTransition("retry")
	assert.InDelta(t, before+1, testutil.ToFloat64(crawlerQueueTransitionsTotal.WithLabelValues("retry")), 0.001)

	before = testutil.ToFloat64(crawlerDuplicatesTotal)
	ObserveDuplicate()
	assert.InDelta(t, before+1, testutil.ToFloat64(crawlerDuplicatesTotal), 0.001)

	before = testutil.ToFloat64(crawlerActiveWorkers)
	IncActiveWorkers()
	assert.InDelta(t, before+1, testutil.ToFloat64(crawlerActiveWorkers), 0.001)
	DecActiveWorkers()
	assert.InDelta(t, before, testutil.ToFloat64(crawlerActiveWorkers), 0.001)

	ObserveFetch("colly", 150*time.Millisecond)
	assert.Positive(t, testutil.CollectAndCount(crawlerFetchDurationSeconds))
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://grqaser.org", "https://media.grqaser.org", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
