// Package mirror maintains an observer's local cache of mutation and
// approval state.
//
// The mirror is a lag-tolerant cache, never a peer authority: it applies
// only server-confirmed events, in sequence order, and falls back to a
// full re-fetch whenever it detects a gap. Duplicates are discarded by
// sequence number, so at-least-once delivery upstream is safe.
package mirror

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/specmut/internal/broker"
	"github.com/roach88/specmut/internal/mutation"
)

// Fetcher is the pull side of reconciliation: a full read of a subject's
// canonical record. Implemented by the engine's store.
type Fetcher interface {
	FetchMutation(ctx context.Context, id string) (mutation.Mutation, error)
	FetchApproval(ctx context.Context, id string) (mutation.ApprovalRequest, error)
}

type subjectKey struct {
	subject mutation.SubjectType
	id      string
}

// Mirror caches per-subject projections keyed by last-applied sequence.
//
// Thread-safety: all methods are safe for concurrent use.
type Mirror struct {
	fetcher Fetcher

	mu          sync.Mutex
	lastApplied map[subjectKey]int64
	stale       map[subjectKey]bool
	mutations   map[string]mutation.Mutation
	approvals   map[string]mutation.ApprovalRequest
}

// New creates an empty mirror that reconciles through f.
func New(f Fetcher) *Mirror {
	return &Mirror{
		fetcher:     f,
		lastApplied: make(map[subjectKey]int64),
		stale:       make(map[subjectKey]bool),
		mutations:   make(map[string]mutation.Mutation),
		approvals:   make(map[string]mutation.ApprovalRequest),
	}
}

// Apply consumes one status event.
//
// Sequence N == lastApplied+1 advances the projection. N <= lastApplied
// is a duplicate and a no-op. Anything further ahead marks the subject
// stale; the projection is untrusted until Reconcile runs.
func (m *Mirror) Apply(ctx context.Context, ev mutation.StatusEvent) error {
	key := subjectKey{ev.Subject, ev.SubjectID}

	m.mu.Lock()
	last := m.lastApplied[key]
	switch {
	case ev.Seq <= last:
		m.mu.Unlock()
		return nil
	case ev.Seq > last+1:
		m.stale[key] = true
		m.mu.Unlock()
		return m.Reconcile(ctx, ev.Subject, ev.SubjectID)
	}

	m.applyLocked(key, ev)
	m.mu.Unlock()
	return nil
}

// applyLocked advances the cached projection with a confirmed event.
// Progress events carry the same status; status events replace it.
func (m *Mirror) applyLocked(key subjectKey, ev mutation.StatusEvent) {
	m.lastApplied[key] = ev.Seq

	switch ev.Subject {
	case mutation.SubjectMutation:
		if cached, ok := m.mutations[key.id]; ok {
			cached.Status = mutation.Status(ev.Status)
			cached.Seq = ev.Seq
			m.mutations[key.id] = cached
		}
	case mutation.SubjectApproval:
		if cached, ok := m.approvals[key.id]; ok {
			cached.Status = mutation.ApprovalStatus(ev.Status)
			cached.Seq = ev.Seq
			m.approvals[key.id] = cached
		}
	}
}

// Reconcile replaces a subject's projection wholesale with the canonical
// record and resets lastApplied to the server-reported sequence.
func (m *Mirror) Reconcile(ctx context.Context, subject mutation.SubjectType, id string) error {
	key := subjectKey{subject, id}

	switch subject {
	case mutation.SubjectMutation:
		rec, err := m.fetcher.FetchMutation(ctx, id)
		if err != nil {
			return fmt.Errorf("reconcile mutation %s: %w", id, err)
		}
		m.mu.Lock()
		m.mutations[id] = rec
		m.lastApplied[key] = rec.Seq
		delete(m.stale, key)
		m.mu.Unlock()
	case mutation.SubjectApproval:
		rec, err := m.fetcher.FetchApproval(ctx, id)
		if err != nil {
			return fmt.Errorf("reconcile approval %s: %w", id, err)
		}
		m.mu.Lock()
		m.approvals[id] = rec
		m.lastApplied[key] = rec.Seq
		delete(m.stale, key)
		m.mu.Unlock()
	default:
		return fmt.Errorf("reconcile: unknown subject type %q", subject)
	}
	return nil
}

// Track seeds the mirror with a canonical mutation record, typically the
// submission response. Events older than the record are duplicates.
func (m *Mirror) Track(rec mutation.Mutation) {
	key := subjectKey{mutation.SubjectMutation, rec.ID}
	m.mu.Lock()
	m.mutations[rec.ID] = rec
	if rec.Seq > m.lastApplied[key] {
		m.lastApplied[key] = rec.Seq
	}
	m.mu.Unlock()
}

// TrackApproval seeds the mirror with a canonical approval record.
func (m *Mirror) TrackApproval(rec mutation.ApprovalRequest) {
	key := subjectKey{mutation.SubjectApproval, rec.ID}
	m.mu.Lock()
	m.approvals[rec.ID] = rec
	if rec.Seq > m.lastApplied[key] {
		m.lastApplied[key] = rec.Seq
	}
	m.mu.Unlock()
}

// Mutation returns the cached mutation projection, if present.
func (m *Mirror) Mutation(id string) (mutation.Mutation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.mutations[id]
	return rec, ok
}

// Approval returns the cached approval projection, if present.
func (m *Mirror) Approval(id string) (mutation.ApprovalRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.approvals[id]
	return rec, ok
}

// LastApplied returns the last applied sequence for a subject, zero if
// the subject is unknown.
func (m *Mirror) LastApplied(subject mutation.SubjectType, id string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastApplied[subjectKey{subject, id}]
}

// Stale reports whether a subject is awaiting reconciliation.
func (m *Mirror) Stale(subject mutation.SubjectType, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stale[subjectKey{subject, id}]
}

// Run consumes a broker subscription until the context is cancelled or
// the subscription closes. Resync notices trigger a reconcile of every
// tracked subject, since the dropped buffer could have held events for
// any of them.
func (m *Mirror) Run(ctx context.Context, sub *broker.Subscription) error {
	for {
		n, ok, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if n.Resync {
			if err := m.ReconcileAll(ctx); err != nil {
				return err
			}
			continue
		}
		if err := m.Apply(ctx, n.Event); err != nil {
			return err
		}
	}
}

// ReconcileAll re-fetches every tracked subject.
func (m *Mirror) ReconcileAll(ctx context.Context) error {
	m.mu.Lock()
	keys := make([]subjectKey, 0, len(m.lastApplied))
	for key := range m.lastApplied {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	for _, key := range keys {
		if err := m.Reconcile(ctx, key.subject, key.id); err != nil {
			return err
		}
	}
	return nil
}
