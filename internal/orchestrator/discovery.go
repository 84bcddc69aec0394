package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/grqaser-crawler/internal/config"
	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
	"github.com/JakeFAU/grqaser-crawler/internal/dedup"
	"github.com/JakeFAU/grqaser-crawler/internal/metrics"
	"github.com/JakeFAU/grqaser-crawler/internal/pipeline"
)

// discovery holds the per-run state of a discovery loop.
type discovery struct {
	o            *Orchestrator
	mode         config.DiscoveryMode
	index        *dedup.Index
	tally        *tally
	logger       *zap.Logger
	listingPages int
}

func (o *Orchestrator) discover(ctx context.Context, m config.DiscoveryMode, t *tally, logger *zap.Logger) error {
	index, err := o.seedIndex(ctx)
	if err != nil {
		return err
	}
	d := &discovery{o: o, mode: m, index: index, tally: t, logger: logger}
	for _, seed := range m.Seeds {
		if _, err := d.enqueue(ctx, seed.URL, seed.Kind, seed.Priority); err != nil {
			return fmt.Errorf("enqueue seed %s: %w", seed.URL, err)
		}
	}

	// Item work runs detached so a stop request never interrupts a write.
	work := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			logger.Info("stop requested", zap.Error(ctx.Err()))
			return nil
		}
		if m.TargetCount > 0 && t.saved() >= m.TargetCount {
			logger.Info("target reached", zap.Int("target", m.TargetCount))
			return nil
		}
		entry, ok, err := o.store.DequeueNext(work)
		if err != nil {
			return fmt.Errorf("dequeue: %w", err)
		}
		if !ok {
			logger.Info("frontier exhausted")
			return nil
		}
		wait := d.process(work, entry)
		if !o.opts.Pauser.Pause(ctx, wait) {
			logger.Info("stop requested during pause")
			return nil
		}
	}
}

// process handles one claimed entry and returns how long to wait before the
// next one.
func (d *discovery) process(ctx context.Context, entry crawler.QueueEntry) time.Duration {
	o := d.o
	logger := d.logger.With(zap.Int64("entry_id", entry.ID), zap.String("url", entry.URL))
	d.tally.add(func(s *crawler.RunStats) {
		s.PagesVisited++
		s.ItemsProcessed++
	})

	result, err := o.fetcher.Fetch(ctx, crawler.FetchRequest{URL: entry.URL, Kind: entry.Kind})
	if err != nil {
		return d.fail(ctx, entry, err, logger)
	}
	metrics.ObservePage(string(entry.Kind), "ok")

	candidates := result.Candidates
	if entry.Kind == crawler.KindBookDetail && len(candidates) > 1 {
		candidates = candidates[:1]
	}
	found, saved := 0, 0
	for _, c := range candidates {
		// A listing URL identifies the page, not the items on it.
		if c.SourceURL == "" && entry.Kind == crawler.KindBookDetail {
			c.SourceURL = entry.URL
		}
		found++
		if d.accept(ctx, c, logger) {
			saved++
		}
	}

	if entry.Kind.IsListing() {
		d.expand(ctx, entry, result, logger)
	}

	if err := o.store.MarkCompleted(ctx, entry.ID, found, saved); err != nil {
		d.persistenceError("mark completed", entry.URL, "", err, logger)
		return o.opts.Delay
	}
	metrics.ObserveQueueTransition(string(crawler.StatusCompleted))
	o.emit(crawler.LevelInfo, fmt.Sprintf("completed: %d found, %d saved", found, saved), "", entry.URL, nil)
	logger.Debug("entry completed", zap.Int("found", found), zap.Int("saved", saved))
	return o.opts.Delay
}

// accept runs one candidate through the pipeline and the dedup index and
// persists it, reporting whether it was saved.
func (d *discovery) accept(ctx context.Context, c crawler.BookCandidate, logger *zap.Logger) bool {
	o := d.o
	d.tally.add(func(s *crawler.RunStats) { s.BooksFound++ })
	record, rejection := pipeline.Normalize(c, o.opts.Clock.Now())
	if rejection != nil {
		observeRejection(d.tally, string(rejection.Reason))
		o.emit(crawler.LevelInfo, "candidate rejected", c.ID, c.SourceURL, rejection)
		logger.Debug("candidate rejected", zap.String("reason", string(rejection.Reason)))
		return false
	}
	if d.index.Check(record) {
		d.tally.add(func(s *crawler.RunStats) { s.DuplicatesSkipped++ })
		metrics.ObserveDuplicate()
		return false
	}
	if err := o.store.UpsertBook(ctx, record); err != nil {
		d.persistenceError("upsert book", c.SourceURL, record.ID, err, logger)
		return false
	}
	d.index.Record(record)
	d.tally.add(func(s *crawler.RunStats) { s.BooksSaved++ })
	metrics.ObserveBookSaved(d.tally.mode)
	o.emit(crawler.LevelInfo, "book saved", record.ID, c.SourceURL, nil)
	return true
}

// expand enqueues detail links and, while under the page cap, the next
// listing page one priority lower.
func (d *discovery) expand(ctx context.Context, entry crawler.QueueEntry, result crawler.PageResult, logger *zap.Logger) {
	for _, detail := range result.DetailURLs {
		if _, err := d.enqueue(ctx, detail, crawler.KindBookDetail, d.mode.DetailPriority); err != nil {
			d.persistenceError("enqueue detail", detail, "", err, logger)
		}
	}
	d.listingPages++
	if d.listingPages >= d.mode.MaxListingPages {
		return
	}
	if len(result.Candidates) == 0 && len(result.DetailURLs) == 0 {
		return
	}
	next := result.NextPageURL
	if next == "" {
		next = crawler.NextPageURL(entry.URL)
	}
	if _, err := d.enqueue(ctx, next, entry.Kind, entry.Priority-1); err != nil {
		d.persistenceError("enqueue next page", next, "", err, logger)
	}
}

func (d *discovery) enqueue(ctx context.Context, url string, kind crawler.URLKind, priority int) (bool, error) {
	created, err := d.o.store.Enqueue(ctx, url, kind, priority)
	if err != nil {
		return false, err
	}
	if created {
		metrics.ObserveQueueTransition(string(crawler.StatusPending))
		d.o.emit(crawler.LevelDebug, fmt.Sprintf("enqueued %s at priority %d", kind, priority), "", url, nil)
	}
	return created, nil
}

// fail classifies a fetch error and applies the matching queue transition.
func (d *discovery) fail(ctx context.Context, entry crawler.QueueEntry, err error, logger *zap.Logger) time.Duration {
	o := d.o
	class := crawler.Classify(err)
	metrics.ObservePage(string(entry.Kind), class.String())
	wait := o.opts.Delay

	var transition crawler.QueueStatus
	var markErr error
	switch {
	case o.opts.Retry.ShouldRetry(err) && entry.RetriesLeft():
		transition = crawler.StatusRetry
		markErr = o.store.MarkRetry(ctx, entry.ID, err.Error())
		wait = o.opts.Retry.Backoff(entry.RetryCount + 1)
		d.tally.add(func(s *crawler.RunStats) { s.Retried++ })
		o.emit(crawler.LevelWarn, fmt.Sprintf("retry %d of %d scheduled", entry.RetryCount+1, entry.MaxRetries-1), "", entry.URL, err)
		logger.Warn("fetch failed, will retry", zap.Int("retry_count", entry.RetryCount+1), zap.Duration("backoff", wait), zap.Error(err))
	case class == crawler.FailureNotFound:
		transition = crawler.StatusFailed
		markErr = o.store.MarkFailed(ctx, entry.ID, err.Error())
		d.tally.add(func(s *crawler.RunStats) { s.NotFound++ })
		o.emit(crawler.LevelWarn, "not found", "", entry.URL, err)
		logger.Info("page not found", zap.Error(err))
	default:
		transition = crawler.StatusFailed
		markErr = o.store.MarkFailed(ctx, entry.ID, err.Error())
		d.tally.add(func(s *crawler.RunStats) { s.PermanentlyFailed++ })
		o.emit(crawler.LevelError, "permanently failed", "", entry.URL, err)
		logger.Error("fetch failed permanently", zap.Stringer("class", class), zap.Error(err))
	}
	if markErr != nil {
		d.persistenceError("mark "+string(transition), entry.URL, "", markErr, logger)
		return wait
	}
	metrics.ObserveQueueTransition(string(transition))
	return wait
}

func (d *discovery) persistenceError(op, url, bookID string, err error, logger *zap.Logger) {
	err = &crawler.PersistenceError{Op: op, Err: err}
	d.tally.add(func(s *crawler.RunStats) { s.PersistenceErrors++ })
	d.o.emit(crawler.LevelError, "persistence error", bookID, url, err)
	logger.Error("persistence error", zap.String("book_id", bookID), zap.Error(err))
}
