package mirror

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/specmut/internal/broker"
	"github.com/roach88/specmut/internal/mutation"
	"github.com/roach88/specmut/internal/store"
)

// fakeFetcher serves canned canonical records and counts fetches.
type fakeFetcher struct {
	mutations map[string]mutation.Mutation
	approvals map[string]mutation.ApprovalRequest
	fetches   int
}

func (f *fakeFetcher) FetchMutation(_ context.Context, id string) (mutation.Mutation, error) {
	f.fetches++
	m, ok := f.mutations[id]
	if !ok {
		return mutation.Mutation{}, mutation.NewNotFound(mutation.SubjectMutation, id)
	}
	return m, nil
}

func (f *fakeFetcher) FetchApproval(_ context.Context, id string) (mutation.ApprovalRequest, error) {
	f.fetches++
	a, ok := f.approvals[id]
	if !ok {
		return mutation.ApprovalRequest{}, mutation.NewNotFound(mutation.SubjectApproval, id)
	}
	return a, nil
}

func event(id string, seq int64, status string) mutation.StatusEvent {
	return mutation.StatusEvent{
		Subject:   mutation.SubjectMutation,
		SubjectID: id,
		Status:    status,
		Seq:       seq,
	}
}

func TestSequentialApply(t *testing.T) {
	f := &fakeFetcher{}
	m := New(f)
	ctx := context.Background()

	m.Track(mutation.Mutation{ID: "mut-1", Status: mutation.StatusPending, Seq: 1})

	if err := m.Apply(ctx, event("mut-1", 2, "queued")); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := m.Apply(ctx, event("mut-1", 3, "executing")); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	cached, ok := m.Mutation("mut-1")
	if !ok || cached.Status != mutation.StatusExecuting {
		t.Fatalf("cached = %+v ok=%v, want executing", cached, ok)
	}
	if got := m.LastApplied(mutation.SubjectMutation, "mut-1"); got != 3 {
		t.Errorf("lastApplied = %d, want 3", got)
	}
	if f.fetches != 0 {
		t.Errorf("unexpected fetches: %d", f.fetches)
	}
}

func TestDuplicateIsNoOp(t *testing.T) {
	f := &fakeFetcher{}
	m := New(f)
	ctx := context.Background()

	m.Track(mutation.Mutation{ID: "mut-1", Status: mutation.StatusQueued, Seq: 2})

	if err := m.Apply(ctx, event("mut-1", 2, "queued")); err != nil {
		t.Fatalf("Apply duplicate: %v", err)
	}
	if err := m.Apply(ctx, event("mut-1", 1, "pending")); err != nil {
		t.Fatalf("Apply stale: %v", err)
	}

	cached, _ := m.Mutation("mut-1")
	if cached.Status != mutation.StatusQueued {
		t.Errorf("status = %s, want queued (duplicates ignored)", cached.Status)
	}
	if got := m.LastApplied(mutation.SubjectMutation, "mut-1"); got != 2 {
		t.Errorf("lastApplied = %d, want 2", got)
	}
}

func TestGapTriggersRefetch(t *testing.T) {
	f := &fakeFetcher{
		mutations: map[string]mutation.Mutation{
			"mut-1": {ID: "mut-1", Status: mutation.StatusCompleted, Seq: 6},
		},
	}
	m := New(f)
	ctx := context.Background()

	m.Track(mutation.Mutation{ID: "mut-1", Status: mutation.StatusPending, Seq: 1})
	if err := m.Apply(ctx, event("mut-1", 2, "queued")); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// Events 3-5 were missed; 6 arrives next.
	if err := m.Apply(ctx, event("mut-1", 6, "completed")); err != nil {
		t.Fatalf("Apply with gap: %v", err)
	}

	if f.fetches != 1 {
		t.Fatalf("fetches = %d, want 1", f.fetches)
	}
	if m.Stale(mutation.SubjectMutation, "mut-1") {
		t.Error("subject still stale after reconcile")
	}
	if got := m.LastApplied(mutation.SubjectMutation, "mut-1"); got != 6 {
		t.Errorf("lastApplied = %d, want server sequence 6", got)
	}
	cached, _ := m.Mutation("mut-1")
	if cached.Status != mutation.StatusCompleted {
		t.Errorf("status = %s, want completed", cached.Status)
	}
}

func TestApprovalProjection(t *testing.T) {
	f := &fakeFetcher{}
	m := New(f)
	ctx := context.Background()

	m.TrackApproval(mutation.ApprovalRequest{ID: "apr-1", Status: mutation.ApprovalPending, Seq: 1})

	ev := mutation.StatusEvent{
		Subject:   mutation.SubjectApproval,
		SubjectID: "apr-1",
		Status:    "approved",
		Seq:       2,
	}
	if err := m.Apply(ctx, ev); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	cached, ok := m.Approval("apr-1")
	if !ok || cached.Status != mutation.ApprovalApproved {
		t.Fatalf("cached = %+v ok=%v, want approved", cached, ok)
	}
}

// End to end: the store publishes through a broker, the mirror consumes
// the subscription, and the projection converges on the canonical state.
func TestMirrorFollowsStore(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "mirror.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	b := broker.New()
	defer b.Close()
	s.SetEventSink(b.Publish)
	sub := b.Subscribe(64)

	m := New(StoreFetcher{Store: s})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, sub) }()

	created, err := s.CreateMutation(ctx, mutation.Mutation{
		ProjectID: "proj-1",
		Operation: mutation.OpUpdate,
		Changes:   map[string]any{"k": "v"},
		Risk:      mutation.RiskLow,
		CreatedBy: "alice",
	})
	if err != nil {
		t.Fatalf("CreateMutation: %v", err)
	}
	m.Track(created)

	for _, step := range []struct{ from, to mutation.Status }{
		{mutation.StatusPending, mutation.StatusQueued},
		{mutation.StatusQueued, mutation.StatusExecuting},
		{mutation.StatusExecuting, mutation.StatusCompleted},
	} {
		if _, err := s.Transition(ctx, created.ID, step.from, step.to, store.TransitionFields{}); err != nil {
			t.Fatalf("Transition %s -> %s: %v", step.from, step.to, err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		cached, _ := m.Mutation(created.ID)
		if cached.Status == mutation.StatusCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("mirror never converged, cached = %+v", cached)
		case <-time.After(5 * time.Millisecond):
		}
	}

	if got := m.LastApplied(mutation.SubjectMutation, created.ID); got != 4 {
		t.Errorf("lastApplied = %d, want 4", got)
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}
