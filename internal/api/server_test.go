package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
	"github.com/JakeFAU/grqaser-crawler/internal/storage/memory"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	server := NewServer(memory.NewStore(nil), zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_RequestIDPropagates(t *testing.T) {
	t.Parallel()

	server := NewServer(memory.NewStore(nil), nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	ready := NewServer(memory.NewStore(nil), zap.NewNop())
	rec := httptest.NewRecorder()
	ready.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	broken := NewServer(failingStore{err: errors.New("database is locked")}, zap.NewNop())
	rec = httptest.NewRecorder()
	broken.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "store unavailable")

	missing := NewServer(nil, zap.NewNop())
	rec = httptest.NewRecorder()
	missing.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_QueueStats(t *testing.T) {
	t.Parallel()

	store := memory.NewStore(nil)
	ctx := context.Background()
	_, err := store.Enqueue(ctx, "https://grqaser.org/books", crawler.KindListingPage, 10)
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, "https://grqaser.org/books/1", crawler.KindBookDetail, 5)
	require.NoError(t, err)

	server := NewServer(store, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/queue", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Statuses []queueStatus `json:"statuses"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	pending := 0
	for _, st := range body.Statuses {
		if st.Status == string(crawler.StatusPending) {
			pending = st.Count
		}
	}
	require.Equal(t, 2, pending)
}

func TestServer_QueueStatsError(t *testing.T) {
	t.Parallel()

	server := NewServer(failingStore{err: errors.New("boom")}, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/queue", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_GetBook(t *testing.T) {
	t.Parallel()

	store := memory.NewStore(nil)
	rating := 4.5
	require.NoError(t, store.UpsertBook(context.Background(), crawler.BookRecord{
		ID:                "77",
		Title:             "Վերք Հայաստանի",
		Author:            "Խաչատուր Աբովյան",
		DurationSeconds:   3600,
		DurationFormatted: "1ժ 0ր",
		Language:          "hy",
		Rating:            &rating,
		MainAudioURL:      "https://grqaser.org/audio/77.mp3",
		ChapterURLs:       []string{},
		CrawlStatus:       crawler.CrawlCompleted,
		UpdatedAt:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}))

	server := NewServer(store, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/books/77", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got bookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "77", got.ID)
	require.Equal(t, "Խաչատուր Աբովյան", got.Author)
	require.NotNil(t, got.Rating)
	require.InDelta(t, 4.5, *got.Rating, 0.001)
	require.Equal(t, "2026-01-02T03:04:05Z", got.UpdatedAt)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/books/404", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	server := NewServer(memory.NewStore(nil), zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

type failingStore struct {
	err error
}

func (f failingStore) Stats(context.Context) ([]crawler.QueueStatusCount, error) {
	return nil, f.err
}

func (f failingStore) GetBook(context.Context, string) (crawler.BookRecord, error) {
	return crawler.BookRecord{}, f.err
}
