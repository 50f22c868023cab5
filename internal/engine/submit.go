package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/specmut/internal/mutation"
	"github.com/roach88/specmut/internal/policy"
	"github.com/roach88/specmut/internal/schema"
	"github.com/roach88/specmut/internal/store"
)

// SubmitResult is returned to the submitter: the created record, the
// approval request gating it (nil when auto-execution is permitted), and
// a rough duration estimate.
type SubmitResult struct {
	Mutation mutation.Mutation
	Approval *mutation.ApprovalRequest
	Estimate time.Duration
}

// Submit accepts a mutation request, assesses it, persists it, and either
// queues it for execution or opens an approval request.
//
// The mutation is held at pending while approval is required; otherwise
// it moves directly to queued. Both the record and its first status
// events are durable before Submit returns.
func (e *Engine) Submit(ctx context.Context, req mutation.Request) (SubmitResult, error) {
	if err := req.Validate(); err != nil {
		return SubmitResult{}, err
	}
	if err := schema.ValidateRequest(req); err != nil {
		return SubmitResult{}, err
	}

	hash, err := mutation.ChangesHash(req.Changes)
	if err != nil {
		return SubmitResult{}, err
	}

	assessment := policy.Assess(req, e.cfg.Thresholds)

	m, err := e.store.CreateMutation(ctx, mutation.Mutation{
		ProjectID:         req.ProjectID,
		Operation:         req.Operation,
		Changes:           req.Changes,
		ChangesHash:       hash,
		Description:       req.Description,
		Risk:              assessment.Risk,
		RequiresApproval:  assessment.RequiresApproval,
		AffectedResources: req.AffectedResources,
		AutoApprove:       req.AutoApprove,
		CreatedBy:         req.RequestedBy,
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("submit: %w", err)
	}

	result := SubmitResult{
		Mutation: m,
		Estimate: EstimateDuration(req.Operation, len(req.AffectedResources)),
	}

	if !assessment.RequiresApproval {
		queued, err := e.store.Transition(ctx, m.ID,
			mutation.StatusPending, mutation.StatusQueued,
			store.TransitionFields{Message: "auto-approved, queued for execution"})
		if err != nil {
			return SubmitResult{}, fmt.Errorf("submit: queue: %w", err)
		}
		result.Mutation = queued
		return result, nil
	}

	approval := mutation.ApprovalRequest{
		MutationIDs:       []string{m.ID},
		Priority:          assessment.Priority,
		Risk:              assessment.Risk,
		AffectedResources: req.AffectedResources,
		RequestedBy:       req.RequestedBy,
	}
	if e.cfg.ApprovalTTL > 0 {
		expires := e.clock.Now().UTC().Add(e.cfg.ApprovalTTL)
		approval.ExpiresAt = &expires
	}

	created, err := e.store.CreateApproval(ctx, approval)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("submit: open approval: %w", err)
	}
	result.Approval = &created

	e.logger.Info("mutation held for approval",
		"mutation", m.ID, "approval", created.ID,
		"risk", created.Risk, "priority", created.Priority)

	return result, nil
}

// EstimateDuration produces the rough execution estimate reported at the
// submission boundary. It is advisory only: a base cost per operation
// kind plus a per-resource increment.
func EstimateDuration(op mutation.OperationKind, resources int) time.Duration {
	var base time.Duration
	switch op {
	case mutation.OpCreate, mutation.OpUpdate, mutation.OpFix:
		base = 30 * time.Second
	case mutation.OpDelete:
		base = time.Minute
	case mutation.OpRefactor, mutation.OpOptimize, mutation.OpEnhance:
		base = 2 * time.Minute
	case mutation.OpMigrate:
		base = 5 * time.Minute
	default:
		base = time.Minute
	}
	return base + time.Duration(resources)*2*time.Second
}
