package schema

import (
	"testing"

	"github.com/roach88/specmut/internal/mutation"
)

func validRequest() mutation.Request {
	return mutation.Request{
		ProjectID:   "proj-1",
		Operation:   mutation.OpUpdate,
		Changes:     map[string]any{"file": "main.go"},
		RequestedBy: "alice",
	}
}

func TestValidRequestPasses(t *testing.T) {
	if err := ValidateRequest(validRequest()); err != nil {
		t.Fatalf("ValidateRequest: %v", err)
	}
}

func TestUnknownOperationRejected(t *testing.T) {
	req := validRequest()
	req.Operation = "destroy"

	err := ValidateRequest(req)
	if !mutation.IsValidation(err) {
		t.Fatalf("expected Validation error, got %v", err)
	}
}

func TestProjectIDCharsetEnforced(t *testing.T) {
	req := validRequest()
	req.ProjectID = "bad project!"

	err := ValidateRequest(req)
	if !mutation.IsValidation(err) {
		t.Fatalf("expected Validation error, got %v", err)
	}
}

func TestEmptyResourceIdentifierRejected(t *testing.T) {
	req := validRequest()
	req.AffectedResources = []string{"api/users", ""}

	err := ValidateRequest(req)
	if !mutation.IsValidation(err) {
		t.Fatalf("expected Validation error, got %v", err)
	}
}

func TestOptionalFieldsMayBeOmitted(t *testing.T) {
	req := mutation.Request{
		ProjectID: "p1",
		Operation: mutation.OpCreate,
		Changes:   map[string]any{"k": "v"},
	}
	if err := ValidateRequest(req); err != nil {
		t.Fatalf("ValidateRequest: %v", err)
	}
}

func TestNestedChangesAccepted(t *testing.T) {
	req := validRequest()
	req.Changes = map[string]any{
		"files": []any{"a.go", "b.go"},
		"meta":  map[string]any{"reviewed": true, "lines": 42},
	}
	if err := ValidateRequest(req); err != nil {
		t.Fatalf("ValidateRequest: %v", err)
	}
}
