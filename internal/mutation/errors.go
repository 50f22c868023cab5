package mutation

import (
	"errors"
	"fmt"
)

// Error is the structured error type shared by the engine and store.
//
// Error categories:
//   - NotFound: unknown subject id
//   - Conflict: compare-and-set lost a race, or an invalid transition
//     was attempted
//   - Validation: malformed submission payload; never retried
//   - ExpiredApproval: decision attempted on a lapsed ApprovalRequest
//
// Conflict and ExpiredApproval are recoverable: the caller re-reads
// current state and decides whether to retry. No error here is fatal to
// the process; all failures are scoped to a single record.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Subject and SubjectID identify the affected record, when known.
	Subject   SubjectType
	SubjectID string
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeNotFound indicates an unknown subject id.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeConflict indicates a lost compare-and-set race or an
	// invalid state transition.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeValidation indicates a malformed submission payload.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeExpiredApproval indicates a decision attempt on a lapsed
	// ApprovalRequest.
	ErrCodeExpiredApproval ErrorCode = "EXPIRED_APPROVAL"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.SubjectID != "" {
		return fmt.Sprintf("%s: %s (%s=%s)", e.Code, e.Message, e.Subject, e.SubjectID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewNotFound creates a NotFound error for the given subject.
func NewNotFound(subject SubjectType, id string) *Error {
	return &Error{
		Code:      ErrCodeNotFound,
		Message:   "no such record",
		Subject:   subject,
		SubjectID: id,
	}
}

// NewConflict creates a Conflict error.
func NewConflict(subject SubjectType, id, message string) *Error {
	return &Error{
		Code:      ErrCodeConflict,
		Message:   message,
		Subject:   subject,
		SubjectID: id,
	}
}

// NewValidation creates a Validation error.
func NewValidation(message string) *Error {
	return &Error{
		Code:    ErrCodeValidation,
		Message: message,
	}
}

// NewExpiredApproval creates an ExpiredApproval error for an approval id.
func NewExpiredApproval(id string) *Error {
	return &Error{
		Code:      ErrCodeExpiredApproval,
		Message:   "approval request has expired",
		Subject:   SubjectApproval,
		SubjectID: id,
	}
}

// IsNotFound reports whether err is a NotFound error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsConflict reports whether err is a Conflict error.
func IsConflict(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

// IsValidation reports whether err is a Validation error.
func IsValidation(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

// IsExpiredApproval reports whether err is an ExpiredApproval error.
func IsExpiredApproval(err error) bool {
	return hasCode(err, ErrCodeExpiredApproval)
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
