package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
	"github.com/JakeFAU/grqaser-crawler/internal/storage/memory"
)

func sampleBatch() []crawler.LogEntry {
	book := "42"
	url := "https://grqaser.org/books/42"
	details := "status 503"
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	return []crawler.LogEntry{
		{Level: crawler.LevelInfo, Message: "book saved", BookID: &book, URL: &url, Timestamp: now},
		{Level: crawler.LevelWarn, Message: "retry scheduled", URL: &url, ErrorDetails: &details, Timestamp: now},
		{Level: crawler.LevelError, Message: "permanently failed", URL: &url, ErrorDetails: &details, Timestamp: now},
	}
}

// TestStoreSinkPersistsEntries ensures entries reach the log store in order.
func TestStoreSinkPersistsEntries(t *testing.T) {
	t.Parallel()

	store := memory.NewStore(nil)
	sink := NewStoreSink(store, nil)
	require.NoError(t, sink.Consume(context.Background(), sampleBatch()))

	logs := store.Logs()
	require.Len(t, logs, 3)
	assert.Equal(t, "book saved", logs[0].Message)
	assert.Equal(t, crawler.LevelError, logs[2].Level)
	require.NoError(t, sink.Close(context.Background()))
}

// TestStoreSinkHandlesErrors surfaces store failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	store := &flakyLogStore{failOn: 1}
	sink := NewStoreSink(store, nil)
	err := sink.Consume(context.Background(), sampleBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append log")
	assert.Equal(t, 3, store.calls, "later entries are still attempted")
}

func TestZapSinkLogsAtEntryLevel(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.DebugLevel)
	sink := NewZapSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), sampleBatch()))

	entries := recorded.AllUntimed()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "42", entries[0].ContextMap()["book_id"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "status 503", entries[1].ContextMap()["error"])
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

// TestPrometheusSinkRecordsMetrics ensures counters are incremented from entries.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), sampleBatch()))
	require.NoError(t, sink.Consume(context.Background(), nil))

	assert.InDelta(t, 1.0, testutil.ToFloat64(sink.entries.WithLabelValues("info")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(sink.entries.WithLabelValues("warn")), 1e-9)
	assert.InDelta(t, 2.0, testutil.ToFloat64(sink.withError), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(sink.batchSize, "crawler_run_log_batch_size"))
}

func TestPrometheusSinkReusesRegisteredCollectors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	first, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	second, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, second.Consume(context.Background(), sampleBatch()[:1]))
	assert.InDelta(t, 1.0, testutil.ToFloat64(first.entries.WithLabelValues("info")), 1e-9)
}

type flakyLogStore struct {
	failOn int
	calls  int
}

func (s *flakyLogStore) AppendLog(context.Context, crawler.LogEntry) error {
	s.calls++
	if s.calls == s.failOn {
		return errors.New("disk full")
	}
	return nil
}
