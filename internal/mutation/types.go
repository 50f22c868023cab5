package mutation

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a Mutation.
//
// The state graph is enforced by the engine's transition table:
//
//	pending   → approved | rejected (approval required)
//	pending   → queued              (auto-approved)
//	approved  → queued
//	queued    → executing
//	executing → completed | failed
//	pending | approved | queued → cancelled
//
// rejected, completed, failed, and cancelled are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusQueued    Status = "queued"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusQueued, StatusExecuting,
		StatusCompleted, StatusFailed, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// validTransitions is the mutation state graph. cancelled is reachable
// only before execution begins, so a half-applied side effect can never
// be silently abandoned.
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusApproved, StatusRejected, StatusQueued, StatusCancelled, StatusFailed},
	StatusApproved:  {StatusQueued, StatusCancelled},
	StatusQueued:    {StatusExecuting, StatusCancelled},
	StatusExecuting: {StatusCompleted, StatusFailed},
}

// CanTransitionTo reports whether the state graph permits moving from s
// to next. pending → failed covers approval expiry.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// OperationKind classifies the intent of a mutation.
type OperationKind string

const (
	OpCreate   OperationKind = "create"
	OpUpdate   OperationKind = "update"
	OpDelete   OperationKind = "delete"
	OpRefactor OperationKind = "refactor"
	OpOptimize OperationKind = "optimize"
	OpFix      OperationKind = "fix"
	OpEnhance  OperationKind = "enhance"
	OpMigrate  OperationKind = "migrate"
)

// OperationKinds lists every valid operation kind in declaration order.
var OperationKinds = []OperationKind{
	OpCreate, OpUpdate, OpDelete, OpRefactor,
	OpOptimize, OpFix, OpEnhance, OpMigrate,
}

// Valid reports whether k is a known operation kind.
func (k OperationKind) Valid() bool {
	for _, known := range OperationKinds {
		if k == known {
			return true
		}
	}
	return false
}

// RiskLevel is the computed risk classification of a mutation.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Mutation is the canonical record of a proposed change to a project's
// specification graph.
//
// The store exclusively owns Mutation records. Seq is the last event
// sequence number emitted for this subject; mirrors use it to reset
// lastApplied after a full re-fetch.
type Mutation struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"project_id"`
	Operation   OperationKind  `json:"operation_type"`
	Changes     map[string]any `json:"changes"`
	ChangesHash string         `json:"changes_hash"`
	Description string         `json:"description,omitempty"`
	Status      Status         `json:"status"`

	// Policy output, persisted so the assessment can be replayed
	// against history for audit.
	Risk              RiskLevel `json:"risk"`
	RequiresApproval  bool      `json:"requires_approval"`
	AffectedResources []string  `json:"affected_resources,omitempty"`
	AutoApprove       bool      `json:"auto_approve,omitempty"`

	CreatedBy   string `json:"created_by"`
	ApprovedBy  string `json:"approved_by,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`

	Seq int64 `json:"seq"`
}

// LogEntry is a single line of a mutation's append-only execution log.
// Entries are ordered by insertion; concurrent producers never lose
// entries but their relative order is not guaranteed.
type LogEntry struct {
	MutationID string    `json:"mutation_id"`
	Entry      string    `json:"entry"`
	LoggedAt   time.Time `json:"logged_at"`
}

// Request is a submission received at the external boundary.
//
// Changes is opaque to the engine beyond canonical hashing. AutoApprove
// absent or false forces approval regardless of risk.
type Request struct {
	ProjectID         string         `json:"project_id"`
	Operation         OperationKind  `json:"operation_type"`
	Changes           map[string]any `json:"changes"`
	Description       string         `json:"description,omitempty"`
	AffectedResources []string       `json:"affected_resources,omitempty"`
	AutoApprove       bool           `json:"auto_approve,omitempty"`
	RequestedBy       string         `json:"requested_by,omitempty"`
}

// Validate checks the structural requirements of a submission.
// Returns a ValidationError describing the first problem found.
func (r Request) Validate() error {
	if r.ProjectID == "" {
		return NewValidation("project_id is required")
	}
	if !r.Operation.Valid() {
		return NewValidation(fmt.Sprintf("unknown operation_type %q", r.Operation))
	}
	if r.Changes == nil {
		return NewValidation("changes payload is required")
	}
	for _, res := range r.AffectedResources {
		if res == "" {
			return NewValidation("affected_resources must not contain empty identifiers")
		}
	}
	return nil
}
