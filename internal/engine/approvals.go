package engine

import (
	"context"
	"fmt"

	"github.com/roach88/specmut/internal/mutation"
	"github.com/roach88/specmut/internal/store"
)

// Approve records an approval decision and releases the gated mutations
// to the execution queue.
//
// If the request's expiry window has elapsed, Approve marks it expired,
// fails its gated mutations, and returns an ExpiredApproval error; the
// late decision is never recorded. Gated mutations that have already
// left pending (a racing cancel, for instance) are skipped rather than
// failing the whole decision.
func (e *Engine) Approve(ctx context.Context, id, approver, comment string) (mutation.ApprovalRequest, error) {
	a, err := e.store.GetApproval(ctx, id)
	if err != nil {
		return mutation.ApprovalRequest{}, err
	}
	if expired, err := e.expireIfLapsed(ctx, a); err != nil {
		return mutation.ApprovalRequest{}, err
	} else if expired {
		return mutation.ApprovalRequest{}, mutation.NewExpiredApproval(id)
	}

	decided, err := e.store.DecideApproval(ctx, id, mutation.ApprovalApproved, approver, comment)
	if err != nil {
		return mutation.ApprovalRequest{}, err
	}

	for _, mid := range decided.MutationIDs {
		if err := e.releaseMutation(ctx, mid, approver); err != nil {
			if mutation.IsConflict(err) {
				e.logger.Warn("gated mutation not released", "mutation", mid, "err", err)
				continue
			}
			return mutation.ApprovalRequest{}, err
		}
	}

	e.logger.Info("approval granted", "approval", id, "by", approver)
	return decided, nil
}

// releaseMutation walks one gated mutation through approval into the
// queue. Both edges are recorded so the event stream shows the full
// pending -> approved -> queued history.
func (e *Engine) releaseMutation(ctx context.Context, id, approver string) error {
	_, err := e.store.Transition(ctx, id,
		mutation.StatusPending, mutation.StatusApproved,
		store.TransitionFields{DecidedBy: approver, Message: "approved"})
	if err != nil {
		return err
	}
	_, err = e.store.Transition(ctx, id,
		mutation.StatusApproved, mutation.StatusQueued,
		store.TransitionFields{Message: "queued for execution"})
	return err
}

// Reject records a rejection and moves the gated mutations to rejected.
// A reason is mandatory; the expiry window is enforced the same way as
// in Approve.
func (e *Engine) Reject(ctx context.Context, id, approver, reason string) (mutation.ApprovalRequest, error) {
	if reason == "" {
		return mutation.ApprovalRequest{}, mutation.NewValidation("rejection requires a reason")
	}

	a, err := e.store.GetApproval(ctx, id)
	if err != nil {
		return mutation.ApprovalRequest{}, err
	}
	if expired, err := e.expireIfLapsed(ctx, a); err != nil {
		return mutation.ApprovalRequest{}, err
	} else if expired {
		return mutation.ApprovalRequest{}, mutation.NewExpiredApproval(id)
	}

	decided, err := e.store.DecideApproval(ctx, id, mutation.ApprovalRejected, approver, reason)
	if err != nil {
		return mutation.ApprovalRequest{}, err
	}

	for _, mid := range decided.MutationIDs {
		_, err := e.store.Transition(ctx, mid,
			mutation.StatusPending, mutation.StatusRejected,
			store.TransitionFields{DecidedBy: approver, Message: reason})
		if err != nil {
			if mutation.IsConflict(err) {
				e.logger.Warn("gated mutation not rejected", "mutation", mid, "err", err)
				continue
			}
			return mutation.ApprovalRequest{}, err
		}
	}

	e.logger.Info("approval rejected", "approval", id, "by", approver)
	return decided, nil
}

// GetApproval returns an approval request, first applying lazy expiry:
// reading a pending request past its window marks it expired and fails
// its gated mutations.
func (e *Engine) GetApproval(ctx context.Context, id string) (mutation.ApprovalRequest, error) {
	a, err := e.store.GetApproval(ctx, id)
	if err != nil {
		return mutation.ApprovalRequest{}, err
	}
	if expired, err := e.expireIfLapsed(ctx, a); err != nil {
		return mutation.ApprovalRequest{}, err
	} else if expired {
		return e.store.GetApproval(ctx, id)
	}
	return a, nil
}

// ListApprovals lists approval requests, expiring any lapsed pending
// ones before returning results.
func (e *Engine) ListApprovals(ctx context.Context, f store.ApprovalFilter) ([]mutation.ApprovalRequest, error) {
	approvals, err := e.store.ListApprovals(ctx, f)
	if err != nil {
		return nil, err
	}

	refreshed := false
	for _, a := range approvals {
		expired, err := e.expireIfLapsed(ctx, a)
		if err != nil {
			return nil, err
		}
		refreshed = refreshed || expired
	}
	if refreshed {
		return e.store.ListApprovals(ctx, f)
	}
	return approvals, nil
}

// expireIfLapsed applies lazy expiry to a single request. It reports
// whether the request is now expired. A racing decision that lands first
// is treated as not-expired here; the caller re-reads and sees the
// winner's terminal status.
func (e *Engine) expireIfLapsed(ctx context.Context, a mutation.ApprovalRequest) (bool, error) {
	if a.Status != mutation.ApprovalPending || !a.Expired(e.clock.Now()) {
		return false, nil
	}

	_, err := e.store.DecideApproval(ctx, a.ID, mutation.ApprovalExpired,
		"", "approval window elapsed")
	if mutation.IsConflict(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	for _, mid := range a.MutationIDs {
		_, err := e.store.Transition(ctx, mid,
			mutation.StatusPending, mutation.StatusFailed,
			store.TransitionFields{
				ErrorDetail: "approval expired before decision",
				Message:     "approval expired",
			})
		if err != nil && !mutation.IsConflict(err) {
			return true, fmt.Errorf("expire approval %s: %w", a.ID, err)
		}
	}

	e.logger.Info("approval expired", "approval", a.ID)
	return true, nil
}
