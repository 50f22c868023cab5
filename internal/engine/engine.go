package engine

import (
	"log/slog"
	"time"

	"github.com/roach88/specmut/internal/policy"
	"github.com/roach88/specmut/internal/store"
)

// Config carries the engine's policy knobs. There are no built-in
// defaults here; values come from configuration so that risk thresholds
// and expiry windows are auditable deployment decisions, not code.
type Config struct {
	// Thresholds feed risk assessment (see policy.Assess).
	Thresholds policy.Thresholds

	// ApprovalTTL is how long an ApprovalRequest stays decidable.
	// Zero means requests never expire.
	ApprovalTTL time.Duration
}

// Engine orchestrates the mutation lifecycle against a record store.
//
// Thread-safety: all methods are safe for concurrent use. The store's
// compare-and-set discipline resolves races; the engine itself keeps no
// mutable state beyond its configuration.
type Engine struct {
	store  *store.Store
	cfg    Config
	clock  Clock
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall-clock source. Tests use a fixed clock to
// exercise approval expiry deterministically.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger overrides the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine over the given store.
func New(s *store.Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		cfg:    cfg,
		clock:  SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the underlying record store for read-side consumers
// (event polling, mirror re-fetch).
func (e *Engine) Store() *store.Store {
	return e.store
}
