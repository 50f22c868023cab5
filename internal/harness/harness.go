// Package harness runs lifecycle conformance scenarios against the real
// engine.
//
// Each scenario executes in a fresh in-memory store with a sequential
// id generator and a fixed clock, so two runs of the same scenario
// produce byte-identical event traces. The trace is the complete event
// log in commit order, suitable for golden comparison.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/specmut/internal/engine"
	"github.com/roach88/specmut/internal/mutation"
	"github.com/roach88/specmut/internal/policy"
	"github.com/roach88/specmut/internal/store"
	"github.com/roach88/specmut/internal/testutil"
)

// scenarioEpoch is the fixed clock start for every run.
var scenarioEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// TraceEvent is one event-log entry in the scenario trace.
type TraceEvent struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	SubjectID string `json:"subject_id"`
	Status    string `json:"status"`
	Seq       int64  `json:"seq"`
	Message   string `json:"message,omitempty"`
	Progress  *int   `json:"progress,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step behaved as expected.
	Pass bool `json:"pass"`

	// Trace is the full event log in commit order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists expectation failures. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`
}

func newResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// harness holds one run's wiring and alias registry.
type harness struct {
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.FixedClock

	// Aliases registered by submit and claim steps.
	mutations map[string]string
	approvals map[string]string
}

// Run executes a scenario and returns its result. Step failures that
// were not declared in an expect clause are reported as scenario errors,
// not Go errors; a Go error means the harness itself could not proceed.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:",
		store.WithIDGenerator(store.NewSequenceGenerator("id")))
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	defer st.Close()

	clock := testutil.NewFixedClock(scenarioEpoch)

	ttl := 24 * time.Hour
	if scenario.Config.ApprovalTTL != "" {
		ttl, _ = time.ParseDuration(scenario.Config.ApprovalTTL)
	}
	threshold := scenario.Config.HighResourceThreshold
	if threshold == 0 {
		threshold = 10
	}

	eng := engine.New(st,
		engine.Config{
			Thresholds:  policy.Thresholds{HighRiskResourceCount: threshold},
			ApprovalTTL: ttl,
		},
		engine.WithClock(clock),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	h := &harness{
		store:     st,
		engine:    eng,
		clock:     clock,
		mutations: make(map[string]string),
		approvals: make(map[string]string),
	}

	ctx := context.Background()
	result := newResult()

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, err
		}
	}

	events, _, err := st.EventsAfter(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("collect trace: %w", err)
	}
	for _, ev := range events {
		result.Trace = append(result.Trace, TraceEvent{
			ID:        ev.ID,
			Subject:   string(ev.Subject),
			SubjectID: ev.SubjectID,
			Status:    ev.Status,
			Seq:       ev.Seq,
			Message:   ev.Message,
			Progress:  ev.Progress,
		})
	}

	return result, nil
}

func (h *harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	switch {
	case step.Submit != nil:
		return h.runSubmit(ctx, index, step, result)
	case step.Approve != nil:
		return h.runDecision(ctx, index, step, step.Approve, true, result)
	case step.Reject != nil:
		return h.runDecision(ctx, index, step, step.Reject, false, result)
	case step.Cancel != nil:
		return h.runCancel(ctx, index, step, result)
	case step.Claim != nil:
		return h.runClaim(ctx, index, step, result)
	case step.Progress != nil:
		id, err := h.mutationID(index, step.Progress.Of)
		if err != nil {
			return err
		}
		opErr := h.engine.ReportProgress(ctx, id, step.Progress.Percent, step.Progress.Message)
		h.checkError(index, step.Expect, opErr, result)
		return h.checkStatus(ctx, index, step.Expect, id, result)
	case step.Outcome != nil:
		id, err := h.mutationID(index, step.Outcome.Of)
		if err != nil {
			return err
		}
		_, opErr := h.engine.ReportOutcome(ctx, id, step.Outcome.Success, step.Outcome.Detail, step.Outcome.Log)
		h.checkError(index, step.Expect, opErr, result)
		return h.checkStatus(ctx, index, step.Expect, id, result)
	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("step %d: %w", index, err)
		}
		h.clock.Advance(d)
		return nil
	default:
		return fmt.Errorf("step %d: no action", index)
	}
}

func (h *harness) runSubmit(ctx context.Context, index int, step Step, result *Result) error {
	sub := step.Submit
	res, opErr := h.engine.Submit(ctx, mutation.Request{
		ProjectID:         sub.ProjectID,
		Operation:         mutation.OperationKind(sub.Operation),
		Changes:           sub.Changes,
		Description:       sub.Description,
		AffectedResources: sub.AffectedResources,
		AutoApprove:       sub.AutoApprove,
		RequestedBy:       sub.RequestedBy,
	})
	h.checkError(index, step.Expect, opErr, result)
	if opErr != nil {
		return nil
	}

	h.mutations[sub.As] = res.Mutation.ID
	if res.Approval != nil {
		h.approvals[sub.As] = res.Approval.ID
	}

	if step.Expect != nil {
		if step.Expect.Risk != "" && string(res.Mutation.Risk) != step.Expect.Risk {
			result.addError("step %d: risk = %s, want %s", index, res.Mutation.Risk, step.Expect.Risk)
		}
		if step.Expect.Approval != nil && *step.Expect.Approval != (res.Approval != nil) {
			result.addError("step %d: approval created = %v, want %v",
				index, res.Approval != nil, *step.Expect.Approval)
		}
	}
	return h.checkStatus(ctx, index, step.Expect, res.Mutation.ID, result)
}

func (h *harness) runDecision(ctx context.Context, index int, step Step, d *DecisionStep, approve bool, result *Result) error {
	approvalID, ok := h.approvals[d.Of]
	if !ok {
		return fmt.Errorf("step %d: no approval registered for alias %q", index, d.Of)
	}

	var opErr error
	if approve {
		_, opErr = h.engine.Approve(ctx, approvalID, d.By, d.Comment)
	} else {
		_, opErr = h.engine.Reject(ctx, approvalID, d.By, d.Reason)
	}
	h.checkError(index, step.Expect, opErr, result)

	id, err := h.mutationID(index, d.Of)
	if err != nil {
		return err
	}
	return h.checkStatus(ctx, index, step.Expect, id, result)
}

func (h *harness) runCancel(ctx context.Context, index int, step Step, result *Result) error {
	id, err := h.mutationID(index, step.Cancel.Of)
	if err != nil {
		return err
	}
	_, opErr := h.engine.Cancel(ctx, id, step.Cancel.By, step.Cancel.Reason)
	h.checkError(index, step.Expect, opErr, result)
	return h.checkStatus(ctx, index, step.Expect, id, result)
}

func (h *harness) runClaim(ctx context.Context, index int, step Step, result *Result) error {
	claimed, opErr := h.engine.ClaimNext(ctx)
	h.checkError(index, step.Expect, opErr, result)
	if opErr != nil || claimed == nil {
		return nil
	}

	if step.Claim.As != "" {
		h.mutations[step.Claim.As] = claimed.ID
	}
	return h.checkStatus(ctx, index, step.Expect, claimed.ID, result)
}

func (h *harness) mutationID(index int, alias string) (string, error) {
	id, ok := h.mutations[alias]
	if !ok {
		return "", fmt.Errorf("step %d: no mutation registered for alias %q", index, alias)
	}
	return id, nil
}

// checkError compares the step's error outcome against its expect
// clause. An undeclared failure or an expected failure that did not
// happen both fail the scenario.
func (h *harness) checkError(index int, expect *Expect, opErr error, result *Result) {
	wantCode := ""
	if expect != nil {
		wantCode = expect.Error
	}

	if opErr == nil {
		if wantCode != "" {
			result.addError("step %d: expected %s error, step succeeded", index, wantCode)
		}
		return
	}

	var domainErr *mutation.Error
	if wantCode != "" && errors.As(opErr, &domainErr) && string(domainErr.Code) == wantCode {
		return
	}
	result.addError("step %d: unexpected error: %v", index, opErr)
}

func (h *harness) checkStatus(ctx context.Context, index int, expect *Expect, id string, result *Result) error {
	if expect == nil || expect.Status == "" {
		return nil
	}
	m, err := h.engine.GetMutation(ctx, id)
	if err != nil {
		return fmt.Errorf("step %d: read back mutation: %w", index, err)
	}
	if string(m.Status) != expect.Status {
		result.addError("step %d: status = %s, want %s", index, m.Status, expect.Status)
	}
	return nil
}
