package mutation

import "time"

// ApprovalStatus is the lifecycle state of an ApprovalRequest.
// approved, rejected, cancelled, and expired are terminal; a terminal
// status is set exactly once and never changes again.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalRejected  ApprovalStatus = "rejected"
	ApprovalCancelled ApprovalStatus = "cancelled"
	ApprovalExpired   ApprovalStatus = "expired"
)

// Terminal reports whether the approval status admits no further decisions.
func (s ApprovalStatus) Terminal() bool {
	return s != ApprovalPending
}

// Priority ranks approval requests for reviewer queues.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ApprovalRequest gates one or more mutations behind a human or automated
// decision. A mutation has at most one active (non-terminal) request at a
// time.
type ApprovalRequest struct {
	ID          string    `json:"id"`
	MutationIDs []string  `json:"mutation_ids"`
	Priority    Priority  `json:"priority"`
	Risk        RiskLevel `json:"risk"`

	// AffectedResources is a snapshot taken at submission time so the
	// reviewer sees what the requester declared, even if the project
	// changes afterwards.
	AffectedResources []string `json:"affected_resources,omitempty"`

	RequestedBy string         `json:"requested_by"`
	AssignedTo  string         `json:"assigned_to,omitempty"`
	Status      ApprovalStatus `json:"status"`
	DecidedBy   string         `json:"decided_by,omitempty"`
	Reason      string         `json:"reason,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	Seq int64 `json:"seq"`
}

// Expired reports whether the request's expiry timestamp has passed.
// Requests without an expiry never expire.
func (a ApprovalRequest) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}
