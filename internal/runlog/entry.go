package runlog

import (
	"errors"
	"fmt"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
)

// Validate performs coarse validation on an entry before it is queued.
func Validate(e crawler.LogEntry) error {
	switch e.Level {
	case crawler.LevelDebug, crawler.LevelInfo, crawler.LevelWarn, crawler.LevelError:
	default:
		return fmt.Errorf("unknown level %q", e.Level)
	}
	if e.Message == "" {
		return errors.New("message is required")
	}
	return nil
}

// Entry builds a log entry; empty optional fields stay nil.
func Entry(level crawler.LogLevel, msg, bookID, url string, err error) crawler.LogEntry {
	entry := crawler.LogEntry{Level: level, Message: msg}
	if bookID != "" {
		entry.BookID = &bookID
	}
	if url != "" {
		entry.URL = &url
	}
	if err != nil {
		details := err.Error()
		entry.ErrorDetails = &details
	}
	return entry
}
