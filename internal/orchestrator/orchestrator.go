// Package orchestrator drives the frontier and the book store through one of
// the run modes: discovery, targeted update, or bounded test.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/grqaser-crawler/internal/config"
	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
	"github.com/JakeFAU/grqaser-crawler/internal/dedup"
	"github.com/JakeFAU/grqaser-crawler/internal/metrics"
	"github.com/JakeFAU/grqaser-crawler/internal/runlog"
)

// RetryPolicy decides which fetch errors are retried and how long to wait
// before retry attempt n (1-based).
type RetryPolicy interface {
	ShouldRetry(err error) bool
	Backoff(attempt int) time.Duration
}

// Waiter blocks until a request to url is allowed.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// IDGenerator names runs in logs.
type IDGenerator interface {
	NewID() (string, error)
}

// Options configures an Orchestrator. Zero values pick sensible defaults.
type Options struct {
	// BaseURL roots the detail URLs refetched in update modes.
	BaseURL string
	// Delay is the politeness pause between discovery entries.
	Delay      time.Duration
	MaxRetries int
	Retry      RetryPolicy
	Pauser     crawler.Pauser
	// Limiter throttles update-mode workers, which share it.
	Limiter Waiter
	// CleanupNonAudio purges stored books without audio before the run.
	CleanupNonAudio bool
	Clock           crawler.Clock
	RunLog          crawler.RunLogger
	IDs             IDGenerator
	Logger          *zap.Logger
}

// Orchestrator runs crawl modes against a store and a page fetcher.
type Orchestrator struct {
	store   crawler.Store
	fetcher crawler.PageFetcher
	opts    Options
	logger  *zap.Logger
	runlog  crawler.RunLogger
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// New constructs an Orchestrator.
func New(store crawler.Store, fetcher crawler.PageFetcher, opts Options) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if fetcher == nil {
		return nil, errors.New("page fetcher is required")
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = crawler.DefaultMaxRetries
	}
	if opts.Retry == nil {
		opts.Retry = crawler.NewExponentialRetryPolicy(0)
	}
	if opts.Pauser == nil {
		opts.Pauser = crawler.TimerPauser{}
	}
	if opts.Clock == nil {
		opts.Clock = utcClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rl := opts.RunLog
	if rl == nil {
		rl = runlog.Discard{}
	}
	return &Orchestrator{store: store, fetcher: fetcher, opts: opts, logger: logger, runlog: rl}, nil
}

// Run executes mode until its stopping condition holds or ctx is cancelled.
// Cancellation is observed between items; an item already in flight finishes
// its writes. Per-item failures are folded into the returned stats; only
// setup failures produce an error.
func (o *Orchestrator) Run(ctx context.Context, mode config.Mode) (crawler.RunStats, error) {
	if mode == nil {
		return crawler.RunStats{}, errors.New("mode is required")
	}
	t := newTally(mode.Name(), o.opts.Clock.Now())
	logger := o.logger.With(zap.String("mode", mode.Name()))
	if o.opts.IDs != nil {
		if id, err := o.opts.IDs.NewID(); err == nil {
			logger = logger.With(zap.String("run_id", id))
		}
	}

	if o.opts.CleanupNonAudio {
		purged, err := o.store.PurgeNonAudio(ctx)
		if err != nil {
			return t.snapshot(o.opts.Clock.Now()), fmt.Errorf("purge non-audio books: %w", err)
		}
		logger.Info("purged books without audio", zap.Int64("deleted", purged))
	}

	var err error
	switch m := mode.(type) {
	case config.DiscoveryMode:
		err = o.discover(ctx, m, t, logger)
	case config.TargetedUpdateMode:
		err = o.update(ctx, m.Criteria, m.Limit, m.Concurrency, t, logger)
	case config.BoundedTestMode:
		err = o.update(ctx, m.Criteria, m.Limit, m.Concurrency, t, logger)
	default:
		err = fmt.Errorf("unsupported mode %T", mode)
	}

	stats := t.snapshot(o.opts.Clock.Now())
	logger.Info("run finished",
		zap.Int("pages_visited", stats.PagesVisited),
		zap.Int("items_processed", stats.ItemsProcessed),
		zap.Int("books_found", stats.BooksFound),
		zap.Int("books_saved", stats.BooksSaved),
		zap.Int("duplicates_skipped", stats.DuplicatesSkipped),
		zap.Int("rejected", stats.TotalRejected()),
		zap.Int("retried", stats.Retried),
		zap.Int("permanently_failed", stats.PermanentlyFailed),
		zap.Int("not_found", stats.NotFound),
		zap.Int("persistence_errors", stats.PersistenceErrors),
		zap.Duration("elapsed", stats.Finished.Sub(stats.Started)),
		zap.Error(err),
	)
	return stats, err
}

// seedIndex builds the run-scoped dedup index from stored books.
func (o *Orchestrator) seedIndex(ctx context.Context) (*dedup.Index, error) {
	keys, err := o.store.ListBookKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list book keys: %w", err)
	}
	idx := dedup.New()
	idx.Seed(keys)
	return idx, nil
}

func (o *Orchestrator) emit(level crawler.LogLevel, msg, bookID, url string, err error) {
	o.runlog.Emit(runlog.Entry(level, msg, bookID, url, err))
}

// tally accumulates RunStats; update workers share one.
type tally struct {
	mode  string
	mu    sync.Mutex
	stats crawler.RunStats
}

func newTally(mode string, started time.Time) *tally {
	return &tally{mode: mode, stats: crawler.RunStats{
		Mode:     mode,
		Rejected: make(map[string]int),
		Started:  started,
	}}
}

func (t *tally) add(apply func(*crawler.RunStats)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	apply(&t.stats)
}

func (t *tally) saved() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats.BooksSaved
}

func (t *tally) snapshot(finished time.Time) crawler.RunStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.stats
	out.Rejected = make(map[string]int, len(t.stats.Rejected))
	for k, v := range t.stats.Rejected {
		out.Rejected[k] = v
	}
	out.Finished = finished
	return out
}

func observeRejection(t *tally, reason string) {
	t.add(func(s *crawler.RunStats) { s.Rejected[reason]++ })
	metrics.ObserveRejection(reason)
}
