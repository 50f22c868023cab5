// Package policy computes risk classification and approval gating for
// mutations.
//
// Assess is a pure function of persisted mutation fields and explicit
// thresholds. It reads no external state, so any historical decision can be
// replayed for audit by re-running Assess against the stored record.
package policy

import "github.com/roach88/specmut/internal/mutation"

// Thresholds carries the configurable inputs to risk assessment.
// The zero value is not meaningful; callers load values from config.
type Thresholds struct {
	// HighRiskResourceCount is the number of affected resources above
	// which any operation is classified high risk.
	HighRiskResourceCount int
}

// Assessment is the result of policy evaluation for one mutation.
type Assessment struct {
	Risk             mutation.RiskLevel
	RequiresApproval bool
	Priority         mutation.Priority
}

// Assess classifies a submission and decides whether it may auto-execute.
//
// Risk rules:
//   - delete and migrate operations are always high
//   - any operation touching more than Thresholds.HighRiskResourceCount
//     resources is high
//   - refactor, optimize, and enhance default to medium
//   - create, update, and fix with small scope default to low
//
// Approval is required whenever risk is medium or high, and additionally
// whenever the submitter did not set auto_approve - an unset flag means the
// caller wants a human in the loop regardless of risk.
func Assess(req mutation.Request, t Thresholds) Assessment {
	risk := riskFor(req.Operation, len(req.AffectedResources), t)

	requires := risk != mutation.RiskLow || !req.AutoApprove

	return Assessment{
		Risk:             risk,
		RequiresApproval: requires,
		Priority:         priorityFor(req.Operation, risk),
	}
}

func riskFor(op mutation.OperationKind, resources int, t Thresholds) mutation.RiskLevel {
	if op == mutation.OpDelete || op == mutation.OpMigrate {
		return mutation.RiskHigh
	}
	if resources > t.HighRiskResourceCount {
		return mutation.RiskHigh
	}

	switch op {
	case mutation.OpRefactor, mutation.OpOptimize, mutation.OpEnhance:
		return mutation.RiskMedium
	}
	return mutation.RiskLow
}

// priorityFor ranks the resulting approval request for reviewer queues.
// Destructive high-risk operations jump the queue.
func priorityFor(op mutation.OperationKind, risk mutation.RiskLevel) mutation.Priority {
	switch risk {
	case mutation.RiskHigh:
		if op == mutation.OpDelete || op == mutation.OpMigrate {
			return mutation.PriorityCritical
		}
		return mutation.PriorityHigh
	case mutation.RiskMedium:
		return mutation.PriorityMedium
	}
	return mutation.PriorityLow
}
