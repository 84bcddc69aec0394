package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
)

// StoreSink appends entries to a crawler.LogStore.
type StoreSink struct {
	store  crawler.LogStore
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided store.
func NewStoreSink(store crawler.LogStore, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{store: store, logger: logger}
}

// Consume writes every entry in order. A failed append does not stop the rest
// of the batch; all failures are joined into the returned error.
func (s *StoreSink) Consume(ctx context.Context, batch []crawler.LogEntry) error {
	if s == nil || s.store == nil {
		return nil
	}
	var errs []error
	for _, entry := range batch {
		if err := s.store.AppendLog(ctx, entry); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("append log: %w", ctx.Err())
			}
			errs = append(errs, fmt.Errorf("append log: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close implements runlog.Sink; the store is owned by the caller.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
