package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/specmut/internal/mutation"
)

//go:embed schema.sql
var schemaSQL string

// Store provides durable storage for mutation and approval records.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db   *sql.DB
	gen  IDGenerator
	now  func() time.Time
	sink func(mutation.StatusEvent)
}

// SetEventSink installs a delivery callback invoked after each committed
// transaction that emitted a status event. The event is durable before the
// sink sees it, which is what makes delivery at-least-once rather than
// at-most-once: a crash between commit and delivery loses the push, and
// the consumer recovers by re-fetching.
func (s *Store) SetEventSink(sink func(mutation.StatusEvent)) {
	s.sink = sink
}

// emit hands a committed event to the delivery sink, if installed.
func (s *Store) emit(ev mutation.StatusEvent) {
	if s.sink != nil {
		s.sink(ev)
	}
}

// Option configures a Store at open time.
type Option func(*Store)

// WithIDGenerator overrides the record/event id generator.
// Tests use FixedGenerator for deterministic ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) { s.gen = g }
}

// WithNow overrides the wall-clock source for stored timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and the schema automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// The single connection also serializes the MAX(seq)+1 computation
	// for event sequence numbers against the transition that commits it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		db:  db,
		gen: UUIDv7Generator{},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist. Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Timestamps are stored as RFC 3339 with nanoseconds in UTC so that
// lexical ordering matches chronological ordering.
const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

// formatNullableTime converts an optional timestamp for storage.
func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseNullableTime converts a stored optional timestamp.
func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
