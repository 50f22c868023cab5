package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/specmut/internal/mutation"
)

// CreateApproval persists a new approval request gating one or more
// mutations, marks the memberships active, and emits the request's first
// status event atomically.
//
// The partial unique index on active memberships rejects a second active
// approval for any gated mutation; that surfaces as a Conflict.
func (s *Store) CreateApproval(ctx context.Context, a mutation.ApprovalRequest) (mutation.ApprovalRequest, error) {
	if a.ID == "" {
		a.ID = s.gen.Generate()
	}
	if len(a.MutationIDs) == 0 {
		return mutation.ApprovalRequest{}, mutation.NewValidation("approval request gates no mutations")
	}
	now := s.now().UTC()
	a.Status = mutation.ApprovalPending
	a.CreatedAt = now
	a.UpdatedAt = now

	resourcesJSON, err := json.Marshal(a.AffectedResources)
	if err != nil {
		return mutation.ApprovalRequest{}, fmt.Errorf("create approval: marshal resources: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mutation.ApprovalRequest{}, fmt.Errorf("create approval: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO approvals
		(id, priority, risk, affected_resources, requested_by, assigned_to,
		 status, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, string(a.Priority), string(a.Risk), string(resourcesJSON),
		a.RequestedBy, a.AssignedTo, string(a.Status),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt), formatNullableTime(a.ExpiresAt),
	)
	if err != nil {
		return mutation.ApprovalRequest{}, fmt.Errorf("create approval: insert: %w", err)
	}

	for _, mid := range a.MutationIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO approval_mutations (approval_id, mutation_id, active)
			VALUES (?, ?, 1)
		`, a.ID, mid); err != nil {
			if isUniqueViolation(err) {
				return mutation.ApprovalRequest{}, mutation.NewConflict(mutation.SubjectMutation, mid,
					"mutation already has an active approval request")
			}
			return mutation.ApprovalRequest{}, fmt.Errorf("create approval: membership: %w", err)
		}
	}

	ev, err := s.insertEventTx(ctx, tx, mutation.SubjectApproval, a.ID,
		string(a.Status), "approval requested", nil, now)
	if err != nil {
		return mutation.ApprovalRequest{}, fmt.Errorf("create approval: %w", err)
	}
	a.Seq = ev.Seq

	if err := tx.Commit(); err != nil {
		return mutation.ApprovalRequest{}, fmt.Errorf("create approval: commit: %w", err)
	}

	s.emit(ev)
	return a, nil
}

// GetApproval returns the current projection of an approval request.
// Fails with NotFound for unknown ids.
func (s *Store) GetApproval(ctx context.Context, id string) (mutation.ApprovalRequest, error) {
	row := s.db.QueryRowContext(ctx, approvalSelect+" WHERE a.id = ?", id)

	a, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return mutation.ApprovalRequest{}, mutation.NewNotFound(mutation.SubjectApproval, id)
	}
	if err != nil {
		return mutation.ApprovalRequest{}, fmt.Errorf("get approval: %w", err)
	}

	if a.MutationIDs, err = s.approvalMembers(ctx, id); err != nil {
		return mutation.ApprovalRequest{}, err
	}
	return a, nil
}

// DecideApproval performs the terminal compare-and-set on an approval
// request: pending -> to. Exactly one concurrent decision wins; the rest
// fail with Conflict. The memberships are deactivated and the status
// event emitted in the same transaction, so a terminal status is recorded
// exactly once and never changes again.
func (s *Store) DecideApproval(ctx context.Context, id string, to mutation.ApprovalStatus, decidedBy, reason string) (mutation.ApprovalRequest, error) {
	if !to.Terminal() {
		return mutation.ApprovalRequest{}, mutation.NewConflict(mutation.SubjectApproval, id,
			fmt.Sprintf("decision must be terminal, got %s", to))
	}

	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mutation.ApprovalRequest{}, fmt.Errorf("decide approval: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE approvals
		SET status = ?, decided_by = ?, reason = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), decidedBy, reason, formatTime(now), id, string(mutation.ApprovalPending))
	if err != nil {
		return mutation.ApprovalRequest{}, fmt.Errorf("decide approval: update: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return mutation.ApprovalRequest{}, fmt.Errorf("decide approval: rows affected: %w", err)
	}
	if affected == 0 {
		var current string
		err := tx.QueryRowContext(ctx,
			"SELECT status FROM approvals WHERE id = ?", id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return mutation.ApprovalRequest{}, mutation.NewNotFound(mutation.SubjectApproval, id)
		}
		if err != nil {
			return mutation.ApprovalRequest{}, fmt.Errorf("decide approval: read current status: %w", err)
		}
		return mutation.ApprovalRequest{}, mutation.NewConflict(mutation.SubjectApproval, id,
			fmt.Sprintf("approval already %s", current))
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE approval_mutations SET active = 0 WHERE approval_id = ?
	`, id); err != nil {
		return mutation.ApprovalRequest{}, fmt.Errorf("decide approval: deactivate members: %w", err)
	}

	ev, err := s.insertEventTx(ctx, tx, mutation.SubjectApproval, id,
		string(to), reason, nil, now)
	if err != nil {
		return mutation.ApprovalRequest{}, fmt.Errorf("decide approval: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return mutation.ApprovalRequest{}, fmt.Errorf("decide approval: commit: %w", err)
	}

	s.emit(ev)
	return s.GetApproval(ctx, id)
}

// ApprovalFilter narrows ListApprovals. Zero fields match everything.
type ApprovalFilter struct {
	Status     mutation.ApprovalStatus
	Priority   mutation.Priority
	Risk       mutation.RiskLevel
	AssignedTo string
}

// ListApprovals returns approval requests matching the filter, newest
// first within priority order.
func (s *Store) ListApprovals(ctx context.Context, f ApprovalFilter) ([]mutation.ApprovalRequest, error) {
	query := approvalSelect
	where := ""
	var args []any

	and := func(cond string, arg any) {
		if where == "" {
			where = " WHERE " + cond
		} else {
			where += " AND " + cond
		}
		args = append(args, arg)
	}

	if f.Status != "" {
		and("a.status = ?", string(f.Status))
	}
	if f.Priority != "" {
		and("a.priority = ?", string(f.Priority))
	}
	if f.Risk != "" {
		and("a.risk = ?", string(f.Risk))
	}
	if f.AssignedTo != "" {
		and("a.assigned_to = ?", f.AssignedTo)
	}

	rows, err := s.db.QueryContext(ctx, query+where+`
		ORDER BY CASE a.priority
			WHEN 'critical' THEN 0
			WHEN 'high' THEN 1
			WHEN 'medium' THEN 2
			ELSE 3
		END, a.created_at DESC, a.id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	approvals := []mutation.ApprovalRequest{}
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		approvals = append(approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvals: %w", err)
	}

	for i := range approvals {
		if approvals[i].MutationIDs, err = s.approvalMembers(ctx, approvals[i].ID); err != nil {
			return nil, err
		}
	}

	return approvals, nil
}

// ActiveApprovalForMutation returns the mutation's active approval
// request, or nil if none exists.
func (s *Store) ActiveApprovalForMutation(ctx context.Context, mutationID string) (*mutation.ApprovalRequest, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT approval_id FROM approval_mutations
		WHERE mutation_id = ? AND active = 1
	`, mutationID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active approval lookup: %w", err)
	}

	a, err := s.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

const approvalSelect = `
	SELECT a.id, a.priority, a.risk, a.affected_resources, a.requested_by,
	       a.assigned_to, a.status, a.decided_by, a.reason, a.created_at,
	       a.updated_at, a.expires_at,
	       (SELECT COALESCE(MAX(seq), 0) FROM events
	        WHERE subject_type = 'approval' AND subject_id = a.id)
	FROM approvals a
`

func scanApproval(row rowScanner) (mutation.ApprovalRequest, error) {
	var a mutation.ApprovalRequest
	var priority, risk, resourcesJSON, status string
	var createdAt, updatedAt string
	var expiresAt sql.NullString

	if err := row.Scan(
		&a.ID, &priority, &risk, &resourcesJSON, &a.RequestedBy,
		&a.AssignedTo, &status, &a.DecidedBy, &a.Reason, &createdAt,
		&updatedAt, &expiresAt, &a.Seq,
	); err != nil {
		return mutation.ApprovalRequest{}, err
	}

	a.Priority = mutation.Priority(priority)
	a.Risk = mutation.RiskLevel(risk)
	a.Status = mutation.ApprovalStatus(status)

	if err := json.Unmarshal([]byte(resourcesJSON), &a.AffectedResources); err != nil {
		return mutation.ApprovalRequest{}, fmt.Errorf("unmarshal resources: %w", err)
	}

	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return mutation.ApprovalRequest{}, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return mutation.ApprovalRequest{}, err
	}
	if a.ExpiresAt, err = parseNullableTime(expiresAt); err != nil {
		return mutation.ApprovalRequest{}, err
	}

	return a, nil
}

func (s *Store) approvalMembers(ctx context.Context, approvalID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mutation_id FROM approval_mutations
		WHERE approval_id = ?
		ORDER BY mutation_id ASC
	`, approvalID)
	if err != nil {
		return nil, fmt.Errorf("approval members: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan approval member: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approval members: %w", err)
	}

	return ids, nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint
// failure. String matching avoids coupling callers to the driver's error
// type.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
