package policy

import (
	"fmt"
	"testing"

	"github.com/roach88/specmut/internal/mutation"
)

var testThresholds = Thresholds{HighRiskResourceCount: 10}

func TestAssess_RiskByOperation(t *testing.T) {
	tests := []struct {
		op        mutation.OperationKind
		resources int
		want      mutation.RiskLevel
	}{
		{mutation.OpDelete, 1, mutation.RiskHigh},
		{mutation.OpMigrate, 0, mutation.RiskHigh},
		{mutation.OpRefactor, 1, mutation.RiskMedium},
		{mutation.OpOptimize, 1, mutation.RiskMedium},
		{mutation.OpEnhance, 1, mutation.RiskMedium},
		{mutation.OpCreate, 1, mutation.RiskLow},
		{mutation.OpUpdate, 1, mutation.RiskLow},
		{mutation.OpFix, 1, mutation.RiskLow},
	}

	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			req := mutation.Request{
				Operation:         tt.op,
				AffectedResources: resources(tt.resources),
			}
			got := Assess(req, testThresholds)
			if got.Risk != tt.want {
				t.Errorf("Assess(%s, %d resources).Risk = %s, want %s",
					tt.op, tt.resources, got.Risk, tt.want)
			}
		})
	}
}

func TestAssess_WideScopeEscalatesToHigh(t *testing.T) {
	// Scenario: a delete touching 50 resources, well above threshold.
	req := mutation.Request{
		Operation:         mutation.OpDelete,
		AffectedResources: resources(50),
	}
	got := Assess(req, testThresholds)

	if got.Risk != mutation.RiskHigh {
		t.Errorf("Risk = %s, want high", got.Risk)
	}
	if !got.RequiresApproval {
		t.Error("high risk must require approval")
	}

	// Even a normally low-risk update escalates past the threshold.
	req = mutation.Request{
		Operation:         mutation.OpUpdate,
		AffectedResources: resources(testThresholds.HighRiskResourceCount + 1),
		AutoApprove:       true,
	}
	got = Assess(req, testThresholds)
	if got.Risk != mutation.RiskHigh {
		t.Errorf("update above threshold: Risk = %s, want high", got.Risk)
	}

	// At the threshold exactly, scope alone does not escalate.
	req.AffectedResources = resources(testThresholds.HighRiskResourceCount)
	got = Assess(req, testThresholds)
	if got.Risk != mutation.RiskLow {
		t.Errorf("update at threshold: Risk = %s, want low", got.Risk)
	}
}

func TestAssess_AutoApproveOverride(t *testing.T) {
	// Scenario: low-risk update, but auto_approve unset - the policy
	// override still routes it through approval.
	req := mutation.Request{
		Operation:         mutation.OpUpdate,
		AffectedResources: resources(1),
		AutoApprove:       false,
	}
	got := Assess(req, testThresholds)

	if got.Risk != mutation.RiskLow {
		t.Errorf("Risk = %s, want low", got.Risk)
	}
	if !got.RequiresApproval {
		t.Error("auto_approve=false must require approval regardless of risk")
	}

	// With auto_approve set and low risk, execution may proceed directly.
	req.AutoApprove = true
	got = Assess(req, testThresholds)
	if got.RequiresApproval {
		t.Error("low risk with auto_approve should not require approval")
	}

	// auto_approve never bypasses medium or high risk.
	req.Operation = mutation.OpRefactor
	got = Assess(req, testThresholds)
	if !got.RequiresApproval {
		t.Error("medium risk must require approval even with auto_approve")
	}
}

func TestAssess_Priority(t *testing.T) {
	tests := []struct {
		op        mutation.OperationKind
		resources int
		want      mutation.Priority
	}{
		{mutation.OpDelete, 1, mutation.PriorityCritical},
		{mutation.OpMigrate, 1, mutation.PriorityCritical},
		{mutation.OpUpdate, 50, mutation.PriorityHigh},
		{mutation.OpRefactor, 1, mutation.PriorityMedium},
		{mutation.OpFix, 1, mutation.PriorityLow},
	}

	for _, tt := range tests {
		req := mutation.Request{
			Operation:         tt.op,
			AffectedResources: resources(tt.resources),
		}
		got := Assess(req, testThresholds)
		if got.Priority != tt.want {
			t.Errorf("Assess(%s, %d).Priority = %s, want %s",
				tt.op, tt.resources, got.Priority, tt.want)
		}
	}
}

func resources(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("node-%d", i)
	}
	return out
}
