// Package sqlite persists the frontier, books and run log in a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/httpfs"
	"go.uber.org/zap"

	// registers the "sqlite3" database/sql driver
	_ "github.com/mattn/go-sqlite3"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so that lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Config controls how the database is opened.
type Config struct {
	// Path is a file path or ":memory:".
	Path        string
	MaxRetries  int
	BusyTimeout time.Duration
	Logger      *zap.Logger
}

// Store implements crawler.Store on SQLite.
type Store struct {
	db         *sql.DB
	clock      crawler.Clock
	maxRetries int
	logger     *zap.Logger
}

var _ crawler.Store = (*Store)(nil)

// Open connects to the database, applies migrations and returns a Store.
func Open(ctx context.Context, cfg Config, clock crawler.Clock) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store.sqlite_path is required")
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	db, err := sql.Open("sqlite3", dsn(cfg.Path, busy))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection serializes writers and keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s, err := NewWithDB(db, cfg, clock)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing handle without running migrations.
func NewWithDB(db *sql.DB, cfg Config, clock crawler.Clock) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = crawler.DefaultMaxRetries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, clock: clock, maxRetries: maxRetries, logger: logger}, nil
}

func dsn(path string, busy time.Duration) string {
	params := fmt.Sprintf("_busy_timeout=%d&_foreign_keys=on", busy.Milliseconds())
	if path == ":memory:" {
		return "file::memory:?" + params
	}
	if !strings.Contains(path, "?") {
		params += "&_journal_mode=WAL"
		return "file:" + path + "?" + params
	}
	return path + "&" + params
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate() error {
	source, err := httpfs.New(http.FS(migrationsFS), "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("httpfs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	s.logger.Debug("sqlite migrations applied")
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}

func parseNullTime(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := parseTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
