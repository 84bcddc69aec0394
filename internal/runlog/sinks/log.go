package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
)

// ZapSink mirrors run log entries onto a zap logger at the matching level.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink wires a Zap logger to the sink interface.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger}
}

// Consume logs each entry using structured fields.
func (s *ZapSink) Consume(_ context.Context, batch []crawler.LogEntry) error {
	for _, entry := range batch {
		fields := []zap.Field{zap.Time("ts", entry.Timestamp)}
		if entry.BookID != nil {
			fields = append(fields, zap.String("book_id", *entry.BookID))
		}
		if entry.URL != nil {
			fields = append(fields, zap.String("url", *entry.URL))
		}
		if entry.ErrorDetails != nil {
			fields = append(fields, zap.String("error", *entry.ErrorDetails))
		}
		if ce := s.logger.Check(zapLevel(entry.Level), entry.Message); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

// Close flushes buffered log output.
func (s *ZapSink) Close(context.Context) error {
	// Sync reports EINVAL for stderr on linux.
	_ = s.logger.Sync()
	return nil
}

func zapLevel(level crawler.LogLevel) zapcore.Level {
	switch level {
	case crawler.LevelDebug:
		return zapcore.DebugLevel
	case crawler.LevelWarn:
		return zapcore.WarnLevel
	case crawler.LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
