package engine

import (
	"context"
	"fmt"

	"github.com/roach88/specmut/internal/mutation"
	"github.com/roach88/specmut/internal/store"
)

// Cancel withdraws a mutation before execution begins. Only pending,
// approved, and queued mutations can be cancelled; anything executing or
// terminal fails with Conflict. Cancelling the sole mutation gated by an
// active approval request closes that request too.
func (e *Engine) Cancel(ctx context.Context, id, actor, reason string) (mutation.Mutation, error) {
	m, err := e.store.GetMutation(ctx, id)
	if err != nil {
		return mutation.Mutation{}, err
	}

	switch m.Status {
	case mutation.StatusPending, mutation.StatusApproved, mutation.StatusQueued:
	default:
		return mutation.Mutation{}, mutation.NewConflict(mutation.SubjectMutation, id,
			fmt.Sprintf("cannot cancel a %s mutation", m.Status))
	}

	msg := "cancelled"
	if reason != "" {
		msg = reason
	}
	cancelled, err := e.store.Transition(ctx, id, m.Status, mutation.StatusCancelled,
		store.TransitionFields{DecidedBy: actor, Message: msg})
	if err != nil {
		return mutation.Mutation{}, err
	}

	active, err := e.store.ActiveApprovalForMutation(ctx, id)
	if err != nil {
		return mutation.Mutation{}, err
	}
	if active != nil && len(active.MutationIDs) == 1 {
		_, err := e.store.DecideApproval(ctx, active.ID,
			mutation.ApprovalCancelled, actor, "mutation cancelled")
		if err != nil && !mutation.IsConflict(err) {
			return mutation.Mutation{}, err
		}
	}

	e.logger.Info("mutation cancelled", "mutation", id, "by", actor)
	return cancelled, nil
}

// ClaimNext claims the oldest queued mutation for execution, or returns
// (nil, nil) when the queue is empty. Safe to call from any number of
// executors; each queued mutation is handed out exactly once.
func (e *Engine) ClaimNext(ctx context.Context) (*mutation.Mutation, error) {
	return e.store.ClaimNextQueued(ctx)
}

// ReportOutcome records the result of an execution: appended log
// entries, then the executing -> completed or executing -> failed
// transition. detail carries the result summary on success and the error
// description on failure.
func (e *Engine) ReportOutcome(ctx context.Context, id string, success bool, detail string, logEntries []string) (mutation.Mutation, error) {
	for _, entry := range logEntries {
		if err := e.store.AppendLog(ctx, id, entry); err != nil {
			return mutation.Mutation{}, err
		}
	}

	if success {
		return e.store.Transition(ctx, id,
			mutation.StatusExecuting, mutation.StatusCompleted,
			store.TransitionFields{Message: detail})
	}
	return e.store.Transition(ctx, id,
		mutation.StatusExecuting, mutation.StatusFailed,
		store.TransitionFields{ErrorDetail: detail, Message: detail})
}

// ReportProgress emits an interim progress event for an executing
// mutation. percent is clamped to [0, 100].
func (e *Engine) ReportProgress(ctx context.Context, id string, percent int, message string) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	_, err := e.store.EmitProgress(ctx, id, percent, message)
	return err
}

// GetMutation returns the current projection of a mutation record.
func (e *Engine) GetMutation(ctx context.Context, id string) (mutation.Mutation, error) {
	return e.store.GetMutation(ctx, id)
}

// ListMutations lists a project's mutations in submission order. An
// empty projectID lists all projects.
func (e *Engine) ListMutations(ctx context.Context, projectID string) ([]mutation.Mutation, error) {
	return e.store.ListMutations(ctx, projectID)
}

// ReadLog returns a mutation's execution log in insertion order.
func (e *Engine) ReadLog(ctx context.Context, id string) ([]mutation.LogEntry, error) {
	return e.store.ReadLog(ctx, id)
}
