package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
)

// PrometheusSink counts run log entries by level and tracks flush sizes.
type PrometheusSink struct {
	entries   *prometheus.CounterVec
	withError prometheus.Counter
	batchSize prometheus.Histogram
}

// NewPrometheusSink registers the collectors against the provided registry.
// Collectors already registered under the same names are reused.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_run_log_entries_total",
			Help: "Run log entries emitted, labeled by level.",
		}, []string{"level"}),
		withError: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_run_log_error_details_total",
			Help: "Run log entries that carried error details.",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_run_log_batch_size",
			Help:    "Entries per run log flush.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),
	}
	var err error
	if s.entries, err = register(reg, s.entries); err != nil {
		return nil, err
	}
	if s.withError, err = register(reg, s.withError); err != nil {
		return nil, err
	}
	if s.batchSize, err = register(reg, s.batchSize); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register run log collector: %w", err)
	}
	return c, nil
}

// Consume updates the counters for every entry in the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []crawler.LogEntry) error {
	if len(batch) == 0 {
		return nil
	}
	s.batchSize.Observe(float64(len(batch)))
	for _, entry := range batch {
		s.entries.WithLabelValues(string(entry.Level)).Inc()
		if entry.ErrorDetails != nil {
			s.withError.Inc()
		}
	}
	return nil
}

// Close implements runlog.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
