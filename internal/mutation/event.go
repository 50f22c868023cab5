package mutation

import "time"

// SubjectType distinguishes which record kind a StatusEvent refers to.
type SubjectType string

const (
	SubjectMutation SubjectType = "mutation"
	SubjectApproval SubjectType = "approval"
)

// StatusEvent records a single state change of a mutation or approval.
//
// Seq is strictly increasing and gap-free per (Subject, SubjectID) from the
// subject's creation. It is assigned inside the same store transaction that
// commits the transition, so an observer that has applied seq N can detect
// any missed event by comparing against N+1.
type StatusEvent struct {
	ID        string      `json:"id"`
	Subject   SubjectType `json:"subject"`
	SubjectID string      `json:"subject_id"`
	Status    string      `json:"status"`

	// Progress is an optional 0-100 completion indicator, reported by the
	// execution collaborator during long-running work.
	Progress *int `json:"progress,omitempty"`

	Message   string    `json:"message,omitempty"`
	Seq       int64     `json:"seq"`
	EmittedAt time.Time `json:"emitted_at"`
}
