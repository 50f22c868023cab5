package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/roach88/specmut/internal/mutation"
)

func testMutation() mutation.Mutation {
	return mutation.Mutation{
		ProjectID:         "proj-1",
		Operation:         mutation.OpUpdate,
		Changes:           map[string]any{"field": "title", "value": "v2"},
		ChangesHash:       "abc123",
		Description:       "rename the title",
		Risk:              mutation.RiskLow,
		RequiresApproval:  false,
		AffectedResources: []string{"node-1"},
		AutoApprove:       true,
		CreatedBy:         "alice",
	}
}

func TestCreateMutation_AssignsIdentityAndPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.CreateMutation(ctx, testMutation())
	if err != nil {
		t.Fatalf("CreateMutation() failed: %v", err)
	}

	if m.ID == "" {
		t.Error("expected assigned id")
	}
	if m.Status != mutation.StatusPending {
		t.Errorf("status = %s, want pending", m.Status)
	}
	if m.Seq != 1 {
		t.Errorf("first event seq = %d, want 1", m.Seq)
	}
	if m.CreatedAt.IsZero() || m.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}

	got, err := s.GetMutation(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMutation() failed: %v", err)
	}
	if got.ProjectID != "proj-1" || got.Operation != mutation.OpUpdate {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Changes["field"] != "title" {
		t.Errorf("changes payload lost: %+v", got.Changes)
	}
}

func TestGetMutation_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetMutation(context.Background(), "missing")
	if !mutation.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestTransition_CompareAndSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.CreateMutation(ctx, testMutation())
	if err != nil {
		t.Fatalf("CreateMutation() failed: %v", err)
	}

	moved, err := s.Transition(ctx, m.ID, mutation.StatusPending, mutation.StatusQueued, TransitionFields{})
	if err != nil {
		t.Fatalf("Transition() failed: %v", err)
	}
	if moved.Status != mutation.StatusQueued {
		t.Errorf("status = %s, want queued", moved.Status)
	}
	if moved.Seq != 2 {
		t.Errorf("seq = %d, want 2", moved.Seq)
	}

	// Replaying the same transition must lose the compare-and-set.
	_, err = s.Transition(ctx, m.ID, mutation.StatusPending, mutation.StatusQueued, TransitionFields{})
	if !mutation.IsConflict(err) {
		t.Errorf("expected Conflict on stale from-status, got %v", err)
	}

	// And again: the record moved past pending, so it conflicts every time.
	_, err = s.Transition(ctx, m.ID, mutation.StatusPending, mutation.StatusQueued, TransitionFields{})
	if !mutation.IsConflict(err) {
		t.Errorf("expected Conflict on second replay, got %v", err)
	}
}

func TestTransition_IllegalEdge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.CreateMutation(ctx, testMutation())
	if err != nil {
		t.Fatalf("CreateMutation() failed: %v", err)
	}

	// pending -> completed is not in the state graph.
	_, err = s.Transition(ctx, m.ID, mutation.StatusPending, mutation.StatusCompleted, TransitionFields{})
	if !mutation.IsConflict(err) {
		t.Errorf("expected Conflict for illegal edge, got %v", err)
	}

	// The record must be untouched.
	got, err := s.GetMutation(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMutation() failed: %v", err)
	}
	if got.Status != mutation.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.Seq != 1 {
		t.Errorf("seq = %d, want 1 (no event for failed transition)", got.Seq)
	}
}

func TestTransition_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Transition(context.Background(), "missing",
		mutation.StatusPending, mutation.StatusQueued, TransitionFields{})
	if !mutation.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestTransition_TimestampInvariants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.CreateMutation(ctx, testMutation())
	if err != nil {
		t.Fatalf("CreateMutation() failed: %v", err)
	}

	m, err = s.Transition(ctx, m.ID, mutation.StatusPending, mutation.StatusQueued, TransitionFields{})
	if err != nil {
		t.Fatalf("to queued: %v", err)
	}
	if m.ExecutedAt != nil || m.CompletedAt != nil {
		t.Error("executed_at/completed_at must not be set before execution")
	}

	m, err = s.Transition(ctx, m.ID, mutation.StatusQueued, mutation.StatusExecuting, TransitionFields{})
	if err != nil {
		t.Fatalf("to executing: %v", err)
	}
	if m.ExecutedAt == nil {
		t.Error("executed_at must be set on entering executing")
	}
	if m.CompletedAt != nil {
		t.Error("completed_at must not be set while executing")
	}

	m, err = s.Transition(ctx, m.ID, mutation.StatusExecuting, mutation.StatusFailed,
		TransitionFields{ErrorDetail: "spec graph validation failed"})
	if err != nil {
		t.Fatalf("to failed: %v", err)
	}
	if m.CompletedAt == nil {
		t.Error("completed_at must be set in terminal state")
	}
	if m.ErrorDetail != "spec graph validation failed" {
		t.Errorf("error detail = %q", m.ErrorDetail)
	}
}

func TestClaimNextQueued_SingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.CreateMutation(ctx, testMutation())
	if err != nil {
		t.Fatalf("CreateMutation() failed: %v", err)
	}
	if _, err := s.Transition(ctx, m.ID, mutation.StatusPending, mutation.StatusQueued, TransitionFields{}); err != nil {
		t.Fatalf("queue: %v", err)
	}

	// Two executors race on a single queued mutation: exactly one claims
	// it, the other sees an empty queue.
	const executors = 2
	results := make([]*mutation.Mutation, executors)
	errs := make([]error, executors)

	var wg sync.WaitGroup
	for i := 0; i < executors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.ClaimNextQueued(ctx)
		}(i)
	}
	wg.Wait()

	claimed := 0
	for i := 0; i < executors; i++ {
		if errs[i] != nil {
			t.Fatalf("executor %d error: %v", i, errs[i])
		}
		if results[i] != nil {
			claimed++
			if results[i].Status != mutation.StatusExecuting {
				t.Errorf("claimed mutation status = %s, want executing", results[i].Status)
			}
		}
	}
	if claimed != 1 {
		t.Errorf("claimed by %d executors, want exactly 1", claimed)
	}
}

func TestClaimNextQueued_EmptyQueue(t *testing.T) {
	s := newTestStore(t)

	got, err := s.ClaimNextQueued(context.Background())
	if err != nil {
		t.Fatalf("ClaimNextQueued() failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil from empty queue, got %+v", got)
	}
}

func TestClaimNextQueued_FIFO(t *testing.T) {
	s := newTestStore(t, WithIDGenerator(NewFixedGenerator(
		"mut-a", "ev-1", "ev-2", "mut-b", "ev-3", "ev-4", "ev-5", "ev-6",
	)))
	ctx := context.Background()

	for _, id := range []string{"mut-a", "mut-b"} {
		m, err := s.CreateMutation(ctx, testMutation())
		if err != nil {
			t.Fatalf("CreateMutation() failed: %v", err)
		}
		if m.ID != id {
			t.Fatalf("id = %s, want %s", m.ID, id)
		}
		if _, err := s.Transition(ctx, m.ID, mutation.StatusPending, mutation.StatusQueued, TransitionFields{}); err != nil {
			t.Fatalf("queue %s: %v", id, err)
		}
	}

	first, err := s.ClaimNextQueued(ctx)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if first == nil || first.ID != "mut-a" {
		t.Errorf("first claim = %+v, want mut-a", first)
	}

	second, err := s.ClaimNextQueued(ctx)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second == nil || second.ID != "mut-b" {
		t.Errorf("second claim = %+v, want mut-b", second)
	}
}

func TestAppendLog_ConcurrentProducersLoseNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.CreateMutation(ctx, testMutation())
	if err != nil {
		t.Fatalf("CreateMutation() failed: %v", err)
	}

	const producers = 8
	const perProducer = 25

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				entry := fmt.Sprintf("producer %d entry %d", p, i)
				if err := s.AppendLog(ctx, m.ID, entry); err != nil {
					t.Errorf("AppendLog() failed: %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	entries, err := s.ReadLog(ctx, m.ID)
	if err != nil {
		t.Fatalf("ReadLog() failed: %v", err)
	}
	if len(entries) != producers*perProducer {
		t.Errorf("got %d log entries, want %d", len(entries), producers*perProducer)
	}

	// Log appends must not have touched status or emitted events.
	got, err := s.GetMutation(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMutation() failed: %v", err)
	}
	if got.Seq != 1 {
		t.Errorf("seq = %d, want 1", got.Seq)
	}
}

func TestAppendLog_UnknownMutation(t *testing.T) {
	s := newTestStore(t)

	err := s.AppendLog(context.Background(), "missing", "entry")
	if !mutation.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestListMutations_ByProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testMutation()
	if _, err := s.CreateMutation(ctx, a); err != nil {
		t.Fatalf("CreateMutation() failed: %v", err)
	}

	b := testMutation()
	b.ProjectID = "proj-2"
	if _, err := s.CreateMutation(ctx, b); err != nil {
		t.Fatalf("CreateMutation() failed: %v", err)
	}

	all, err := s.ListMutations(ctx, "")
	if err != nil {
		t.Fatalf("ListMutations() failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d mutations, want 2", len(all))
	}

	only, err := s.ListMutations(ctx, "proj-2")
	if err != nil {
		t.Fatalf("ListMutations(proj-2) failed: %v", err)
	}
	if len(only) != 1 || only[0].ProjectID != "proj-2" {
		t.Errorf("project filter returned %+v", only)
	}
}
