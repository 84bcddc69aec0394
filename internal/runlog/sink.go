package runlog

import (
	"context"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
)

// Sink consumes batches of run log entries. Implementations must be safe for
// repeated calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []crawler.LogEntry) error
	Close(ctx context.Context) error
}

// Discard is a crawler.RunLogger that drops every entry.
type Discard struct{}

// Emit implements crawler.RunLogger.
func (Discard) Emit(crawler.LogEntry) {}
