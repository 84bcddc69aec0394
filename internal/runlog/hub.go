package runlog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 1024).
//   - MaxBatch: flush once this many entries queue (default 100).
//   - MaxWait: flush after this duration even if the batch is small (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 5s).
//   - Clock: stamps entries that arrive without a timestamp.
type Config struct {
	BufferSize  int
	MaxBatch    int
	MaxWait     time.Duration
	SinkTimeout time.Duration
	Clock       crawler.Clock
	Logger      *zap.Logger
}

const (
	defaultBufferSize  = 1024
	defaultMaxBatch    = 100
	defaultMaxWait     = 500 * time.Millisecond
	defaultSinkTimeout = 5 * time.Second
	dropLogInterval    = 5 * time.Second
)

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// Hub aggregates run log entries and fans them out to registered sinks. It is
// safe for concurrent use and never blocks callers.
type Hub struct {
	cfg     Config
	sinks   []Sink
	entries chan crawler.LogEntry
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger

	lastDropLog  atomic.Int64
	dropped      atomic.Int64
	droppedTotal atomic.Int64
	closed       atomic.Bool

	// sendMu orders sends before the close that starts the final drain.
	sendMu    sync.RWMutex
	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the background batching goroutine for the supplied sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = wallClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		entries: make(chan crawler.LogEntry, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  logger,
	}
	go h.run()
	return h
}

// Emit enqueues an entry for batching. When the buffer is full the entry is
// dropped and a rate-limited warning is logged. Entries emitted after Close
// count as dropped.
func (h *Hub) Emit(entry crawler.LogEntry) {
	if h == nil {
		return
	}
	h.sendMu.RLock()
	defer h.sendMu.RUnlock()
	if h.closed.Load() {
		h.droppedTotal.Add(1)
		return
	}
	if err := Validate(entry); err != nil {
		h.logger.Debug("discarding invalid run log entry", zap.Error(err))
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = h.cfg.Clock.Now()
	}
	select {
	case h.entries <- entry:
	default:
		h.dropped.Add(1)
		h.droppedTotal.Add(1)
		now := time.Now().UnixNano()
		last := h.lastDropLog.Load()
		if now-last >= dropLogInterval.Nanoseconds() && h.lastDropLog.CompareAndSwap(last, now) {
			h.logger.Warn("run log entries dropped due to backpressure", zap.Int64("dropped", h.dropped.Swap(0)))
		}
	}
}

// Dropped reports how many entries were lost to backpressure.
func (h *Hub) Dropped() int64 {
	return h.droppedTotal.Load()
}

// Close drains remaining entries, flushes and closes sinks, and waits for the
// background goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.sendMu.Lock()
		h.closed.Store(true)
		h.sendMu.Unlock()
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("run log close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]crawler.LogEntry, 0, h.cfg.MaxBatch)
	timer := time.NewTimer(h.cfg.MaxWait)
	timer.Stop()
	armed := false
	for {
		select {
		case entry := <-h.entries:
			batch = append(batch, entry)
			if len(batch) >= h.cfg.MaxBatch {
				h.flush(batch)
				batch = batch[:0]
				stopTimer(timer, &armed)
			} else if !armed {
				timer.Reset(h.cfg.MaxWait)
				armed = true
			}
		case <-timer.C:
			armed = false
			if len(batch) > 0 {
				h.flush(batch)
				batch = batch[:0]
			}
		case <-h.stopCh:
			stopTimer(timer, &armed)
			h.drain(batch)
			return
		}
	}
}

func (h *Hub) drain(batch []crawler.LogEntry) {
	for {
		select {
		case entry := <-h.entries:
			batch = append(batch, entry)
			if len(batch) >= h.cfg.MaxBatch {
				h.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				h.flush(batch)
			}
			h.closeSinks()
			return
		}
	}
}

func stopTimer(timer *time.Timer, armed *bool) {
	if !*armed {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	*armed = false
}

func (h *Hub) flush(batch []crawler.LogEntry) {
	out := append([]crawler.LogEntry(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.logger.Warn("run log sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("run log sink close failed", zap.Error(err))
		}
	}
}
