package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
	"github.com/JakeFAU/grqaser-crawler/internal/metrics"
	"github.com/JakeFAU/grqaser-crawler/internal/pipeline"
)

// update refetches a fixed set of stored books with k concurrent workers.
// Books are dealt round-robin to workers; each batch takes the next book of
// every worker and must finish before the following batch starts.
func (o *Orchestrator) update(
	ctx context.Context,
	criteria crawler.RepairCriteria,
	limit, k int,
	t *tally,
	logger *zap.Logger,
) error {
	if !criteria.Any() {
		logger.Warn("no repair criteria enabled, nothing to update")
		return nil
	}
	if limit > 0 && (criteria.Limit <= 0 || criteria.Limit > limit) {
		criteria.Limit = limit
	}
	selected, err := o.store.BooksNeedingRepair(ctx, criteria)
	if err != nil {
		return fmt.Errorf("select books needing repair: %w", err)
	}
	books := addressable(selected)
	if skipped := len(selected) - len(books); skipped > 0 {
		logger.Info("skipping books without a site id", zap.Int("skipped", skipped))
	}
	k = max(k, 1)
	lanes := partition(books, k)
	logger.Info("update candidates selected", zap.Int("books", len(books)), zap.Int("workers", k))

	work := context.WithoutCancel(ctx)
	for round := 0; ; round++ {
		if ctx.Err() != nil {
			logger.Info("stop requested", zap.Error(ctx.Err()))
			return nil
		}
		var g errgroup.Group
		g.SetLimit(k)
		started := 0
		for worker, lane := range lanes {
			if round >= len(lane) {
				continue
			}
			book := lane[round]
			started++
			g.Go(func() error {
				metrics.IncActiveWorkers()
				defer metrics.DecActiveWorkers()
				o.refresh(work, book, t, logger.With(zap.Int("worker", worker), zap.String("book_id", book.ID)))
				return nil
			})
		}
		if started == 0 {
			return nil
		}
		// Workers report failures through the tally, never through the group.
		_ = g.Wait()
	}
}

// addressable keeps the books whose id maps to a detail page. Books keyed by
// a derived id have no URL to refetch.
func addressable(books []crawler.BookRecord) []crawler.BookRecord {
	out := make([]crawler.BookRecord, 0, len(books))
	for _, book := range books {
		if crawler.IsSiteBookID(book.ID) {
			out = append(out, book)
		}
	}
	return out
}

// partition deals books round-robin into k lanes.
func partition(books []crawler.BookRecord, k int) [][]crawler.BookRecord {
	lanes := make([][]crawler.BookRecord, k)
	for i, book := range books {
		lanes[i%k] = append(lanes[i%k], book)
	}
	return lanes
}

// refresh refetches one book's detail page and overwrites the stored record.
func (o *Orchestrator) refresh(ctx context.Context, book crawler.BookRecord, t *tally, logger *zap.Logger) {
	url := crawler.BookURL(o.opts.BaseURL, book.ID)
	t.add(func(s *crawler.RunStats) { s.ItemsProcessed++ })

	var result crawler.PageResult
	err := retry.Do(
		func() error {
			if o.opts.Limiter != nil {
				if err := o.opts.Limiter.Wait(ctx, url); err != nil {
					return retry.Unrecoverable(err)
				}
			}
			t.add(func(s *crawler.RunStats) { s.PagesVisited++ })
			r, err := o.fetcher.Fetch(ctx, crawler.FetchRequest{URL: url, Kind: crawler.KindBookDetail})
			if err != nil {
				if !o.opts.Retry.ShouldRetry(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			result = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(o.opts.MaxRetries)),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return o.opts.Retry.Backoff(int(n) + 1)
		}),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			if int(n)+1 >= o.opts.MaxRetries {
				return
			}
			t.add(func(s *crawler.RunStats) { s.Retried++ })
			logger.Warn("refetch failed, will retry", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		class := crawler.Classify(err)
		metrics.ObservePage(string(crawler.KindBookDetail), class.String())
		if class == crawler.FailureNotFound {
			t.add(func(s *crawler.RunStats) { s.NotFound++ })
			o.emit(crawler.LevelWarn, "not found", book.ID, url, err)
			logger.Info("book page not found", zap.Error(err))
			return
		}
		t.add(func(s *crawler.RunStats) { s.PermanentlyFailed++ })
		o.emit(crawler.LevelError, "refetch failed", book.ID, url, err)
		logger.Error("refetch failed", zap.Stringer("class", class), zap.Error(err))
		return
	}
	metrics.ObservePage(string(crawler.KindBookDetail), "ok")

	if len(result.Candidates) == 0 {
		observeRejection(t, string(pipeline.RejectMissingIdentity))
		o.emit(crawler.LevelWarn, "detail page yielded no book", book.ID, url, nil)
		return
	}
	candidate := result.Candidates[0]
	candidate.ID = book.ID
	if candidate.SourceURL == "" {
		candidate.SourceURL = url
	}
	t.add(func(s *crawler.RunStats) { s.BooksFound++ })
	record, rejection := pipeline.Normalize(candidate, o.opts.Clock.Now())
	if rejection != nil {
		observeRejection(t, string(rejection.Reason))
		o.emit(crawler.LevelInfo, "candidate rejected", book.ID, url, rejection)
		logger.Info("refetched book rejected", zap.String("reason", string(rejection.Reason)))
		return
	}
	record.CreatedAt = book.CreatedAt
	if err := o.store.UpsertBook(ctx, record); err != nil {
		err = &crawler.PersistenceError{Op: "upsert book", Err: err}
		t.add(func(s *crawler.RunStats) { s.PersistenceErrors++ })
		o.emit(crawler.LevelError, "persistence error", book.ID, url, err)
		logger.Error("persistence error", zap.Error(err))
		return
	}
	t.add(func(s *crawler.RunStats) { s.BooksSaved++ })
	metrics.ObserveBookSaved(t.mode)
	o.emit(crawler.LevelInfo, "book updated", book.ID, url, nil)
}
