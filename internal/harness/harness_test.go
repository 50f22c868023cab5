package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScenarioFiles(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths, "no scenario files found")

	for _, path := range paths {
		path := path
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			require.True(t, result.Pass, "scenario failed: %v", result.Errors)
		})
	}
}

func TestRejectFlow(t *testing.T) {
	scenario := &Scenario{
		Name:        "reject-flow",
		Description: "rejection needs a reason and terminates the mutation",
		Steps: []Step{
			{
				Submit: &SubmitStep{
					As:          "m1",
					ProjectID:   "proj-1",
					Operation:   "update",
					Changes:     map[string]any{"file": "main.go"},
					RequestedBy: "alice",
				},
				Expect: &Expect{Status: "pending"},
			},
			{
				Reject: &DecisionStep{Of: "m1", By: "bob"},
				Expect: &Expect{Error: "VALIDATION", Status: "pending"},
			},
			{
				Reject: &DecisionStep{Of: "m1", By: "bob", Reason: "not this release"},
				Expect: &Expect{Status: "rejected"},
			},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestCancelFlow(t *testing.T) {
	scenario := &Scenario{
		Name:        "cancel-flow",
		Description: "cancelling a gated mutation closes its approval request",
		Steps: []Step{
			{
				Submit: &SubmitStep{
					As:          "m1",
					ProjectID:   "proj-1",
					Operation:   "refactor",
					Changes:     map[string]any{"module": "auth"},
					RequestedBy: "alice",
				},
				Expect: &Expect{Status: "pending", Risk: "medium"},
			},
			{
				Cancel: &CancelStep{Of: "m1", By: "alice", Reason: "superseded"},
				Expect: &Expect{Status: "cancelled"},
			},
			{
				Approve: &DecisionStep{Of: "m1", By: "bob"},
				Expect:  &Expect{Error: "CONFLICT", Status: "cancelled"},
			},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestExpectationFailureFailsScenario(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong-expectation",
		Description: "a wrong expected status is reported, not swallowed",
		Steps: []Step{
			{
				Submit: &SubmitStep{
					As:          "m1",
					ProjectID:   "proj-1",
					Operation:   "update",
					Changes:     map[string]any{"k": "v"},
					AutoApprove: true,
					RequestedBy: "alice",
				},
				Expect: &Expect{Status: "completed"},
			},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.False(t, result.Pass)
	require.NotEmpty(t, result.Errors)
}

func TestUnknownAliasIsHarnessError(t *testing.T) {
	scenario := &Scenario{
		Name:        "unknown-alias",
		Description: "a step referencing an unregistered alias aborts the run",
		Steps: []Step{
			{Outcome: &OutcomeStep{Of: "ghost", Success: true}},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ghost")
}
