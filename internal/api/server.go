package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
	"github.com/JakeFAU/grqaser-crawler/internal/metrics"
)

// StoreReader is the read-only slice of the store the server exposes.
type StoreReader interface {
	Stats(ctx context.Context) ([]crawler.QueueStatusCount, error)
	GetBook(ctx context.Context, id string) (crawler.BookRecord, error)
}

// Server wires HTTP handlers to the store.
type Server struct {
	router chi.Router
	store  StoreReader
	logger *zap.Logger
}

const readyTimeout = 2 * time.Second

// NewServer constructs a Server with middleware and routes.
func NewServer(store StoreReader, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{store: store, logger: logger}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/queue", s.queueStats)
		r.Get("/books/{id}", s.getBook)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if _, err := s.store.Stats(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type queueStatus struct {
	Status     string `json:"status"`
	Count      int    `json:"count"`
	ItemsFound int    `json:"items_found"`
	ItemsSaved int    `json:"items_saved"`
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("queue stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "queue stats unavailable")
		return
	}
	out := make([]queueStatus, 0, len(stats))
	for _, st := range stats {
		out = append(out, queueStatus{
			Status:     string(st.Status),
			Count:      st.Count,
			ItemsFound: st.ItemsFound,
			ItemsSaved: st.ItemsSaved,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"statuses": out})
}

type bookResponse struct {
	ID                string   `json:"id"`
	Title             string   `json:"title"`
	Author            string   `json:"author"`
	Description       string   `json:"description,omitempty"`
	DurationSeconds   int      `json:"duration_seconds"`
	DurationFormatted string   `json:"duration_formatted"`
	Language          string   `json:"language"`
	Category          string   `json:"category"`
	Rating            *float64 `json:"rating,omitempty"`
	CoverImageURL     string   `json:"cover_image_url,omitempty"`
	MainAudioURL      string   `json:"main_audio_url"`
	DownloadURL       string   `json:"download_url,omitempty"`
	ChapterURLs       []string `json:"chapter_urls"`
	ChapterCount      int      `json:"chapter_count"`
	CrawlStatus       string   `json:"crawl_status"`
	UpdatedAt         string   `json:"updated_at"`
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	book, err := s.store.GetBook(r.Context(), id)
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		writeError(w, http.StatusNotFound, "book not found")
		return
	case err != nil:
		s.logger.Error("get book failed", zap.String("book_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "book lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, bookResponse{
		ID:                book.ID,
		Title:             book.Title,
		Author:            book.Author,
		Description:       book.Description,
		DurationSeconds:   book.DurationSeconds,
		DurationFormatted: book.DurationFormatted,
		Language:          book.Language,
		Category:          book.Category,
		Rating:            book.Rating,
		CoverImageURL:     book.CoverImageURL,
		MainAudioURL:      book.MainAudioURL,
		DownloadURL:       book.DownloadURL,
		ChapterURLs:       book.ChapterURLs,
		ChapterCount:      book.ChapterCount,
		CrawlStatus:       string(book.CrawlStatus),
		UpdatedAt:         book.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.String("request_id", reqID),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errchkjson // the client may already be gone
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
