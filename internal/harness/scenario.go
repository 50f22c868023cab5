package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a lifecycle conformance scenario: a sequence of
// engine operations with expected outcomes, executed against a fresh
// in-memory store with deterministic ids and clock.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config overrides engine policy knobs for this run.
	Config ScenarioConfig `yaml:"config"`

	// Steps are executed in order. A step that fails without a matching
	// expect clause aborts the run.
	Steps []Step `yaml:"steps"`
}

// ScenarioConfig carries the policy knobs a scenario runs under.
type ScenarioConfig struct {
	// HighResourceThreshold is the resource count above which any
	// operation is high risk. Defaults to 10.
	HighResourceThreshold int `yaml:"high_resource_threshold"`

	// ApprovalTTL is the approval expiry window as a duration string.
	// Empty defaults to "24h"; "0" disables expiry.
	ApprovalTTL string `yaml:"approval_ttl"`
}

// Step is one engine operation. Exactly one action field must be set.
type Step struct {
	Submit   *SubmitStep   `yaml:"submit,omitempty"`
	Approve  *DecisionStep `yaml:"approve,omitempty"`
	Reject   *DecisionStep `yaml:"reject,omitempty"`
	Cancel   *CancelStep   `yaml:"cancel,omitempty"`
	Claim    *ClaimStep    `yaml:"claim,omitempty"`
	Progress *ProgressStep `yaml:"progress,omitempty"`
	Outcome  *OutcomeStep  `yaml:"outcome,omitempty"`

	// Advance moves the scenario clock forward, e.g. "25h".
	Advance string `yaml:"advance,omitempty"`

	// Expect validates the step's outcome. Without it the step must
	// simply succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// SubmitStep submits a mutation request and registers it under an alias
// for later steps.
type SubmitStep struct {
	As                string         `yaml:"as"`
	ProjectID         string         `yaml:"project_id"`
	Operation         string         `yaml:"operation_type"`
	Changes           map[string]any `yaml:"changes"`
	Description       string         `yaml:"description,omitempty"`
	AffectedResources []string       `yaml:"affected_resources,omitempty"`
	AutoApprove       bool           `yaml:"auto_approve,omitempty"`
	RequestedBy       string         `yaml:"requested_by"`
}

// DecisionStep approves or rejects the approval request gating the
// aliased mutation.
type DecisionStep struct {
	Of      string `yaml:"of"`
	By      string `yaml:"by"`
	Comment string `yaml:"comment,omitempty"`
	Reason  string `yaml:"reason,omitempty"`
}

// CancelStep withdraws the aliased mutation.
type CancelStep struct {
	Of     string `yaml:"of"`
	By     string `yaml:"by"`
	Reason string `yaml:"reason,omitempty"`
}

// ClaimStep claims the oldest queued mutation, optionally registering it
// under an alias.
type ClaimStep struct {
	As string `yaml:"as,omitempty"`
}

// ProgressStep reports execution progress for the aliased mutation.
type ProgressStep struct {
	Of      string `yaml:"of"`
	Percent int    `yaml:"percent"`
	Message string `yaml:"message,omitempty"`
}

// OutcomeStep reports the execution outcome for the aliased mutation.
type OutcomeStep struct {
	Of      string   `yaml:"of"`
	Success bool     `yaml:"success"`
	Detail  string   `yaml:"detail,omitempty"`
	Log     []string `yaml:"log,omitempty"`
}

// Expect validates a step's outcome.
type Expect struct {
	// Error is the expected error code (NOT_FOUND, CONFLICT, VALIDATION,
	// EXPIRED_APPROVAL). Empty means the step must succeed.
	Error string `yaml:"error,omitempty"`

	// Status is the aliased mutation's expected status after the step.
	Status string `yaml:"status,omitempty"`

	// Risk is the expected computed risk level (submit steps).
	Risk string `yaml:"risk,omitempty"`

	// Approval asserts whether submit created an approval request.
	Approval *bool `yaml:"approval,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected to catch typos.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var scenario Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if s.Config.ApprovalTTL != "" {
		if _, err := time.ParseDuration(s.Config.ApprovalTTL); err != nil {
			return fmt.Errorf("config.approval_ttl: %w", err)
		}
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *Step) error {
	actions := 0
	if step.Submit != nil {
		actions++
		if step.Submit.As == "" {
			return fmt.Errorf("steps[%d].submit: as is required", index)
		}
	}
	if step.Approve != nil {
		actions++
		if step.Approve.Of == "" {
			return fmt.Errorf("steps[%d].approve: of is required", index)
		}
	}
	if step.Reject != nil {
		actions++
		if step.Reject.Of == "" {
			return fmt.Errorf("steps[%d].reject: of is required", index)
		}
	}
	if step.Cancel != nil {
		actions++
		if step.Cancel.Of == "" {
			return fmt.Errorf("steps[%d].cancel: of is required", index)
		}
	}
	if step.Claim != nil {
		actions++
	}
	if step.Progress != nil {
		actions++
		if step.Progress.Of == "" {
			return fmt.Errorf("steps[%d].progress: of is required", index)
		}
	}
	if step.Outcome != nil {
		actions++
		if step.Outcome.Of == "" {
			return fmt.Errorf("steps[%d].outcome: of is required", index)
		}
	}
	if step.Advance != "" {
		actions++
		if _, err := time.ParseDuration(step.Advance); err != nil {
			return fmt.Errorf("steps[%d].advance: %w", index, err)
		}
	}

	if actions != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, found %d", index, actions)
	}
	return nil
}
