package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/specmut/internal/mutation"
)

// TransitionFields carries the optional record updates that accompany a
// status transition. Zero values leave the corresponding column untouched.
type TransitionFields struct {
	// DecidedBy is recorded when entering approved or rejected.
	DecidedBy string

	// ErrorDetail is recorded when entering failed.
	ErrorDetail string

	// Message and Progress are carried on the emitted status event only.
	Message  string
	Progress *int
}

// CreateMutation persists a new mutation record and emits its first status
// event atomically. The store assigns the id (unless pre-set by a test
// generator path), creation timestamps, and status pending.
func (s *Store) CreateMutation(ctx context.Context, m mutation.Mutation) (mutation.Mutation, error) {
	if m.ID == "" {
		m.ID = s.gen.Generate()
	}
	now := s.now().UTC()
	m.Status = mutation.StatusPending
	m.CreatedAt = now
	m.UpdatedAt = now

	changesJSON, err := json.Marshal(m.Changes)
	if err != nil {
		return mutation.Mutation{}, fmt.Errorf("create mutation: marshal changes: %w", err)
	}
	resourcesJSON, err := json.Marshal(m.AffectedResources)
	if err != nil {
		return mutation.Mutation{}, fmt.Errorf("create mutation: marshal resources: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mutation.Mutation{}, fmt.Errorf("create mutation: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO mutations
		(id, project_id, operation, changes, changes_hash, description, status,
		 risk, requires_approval, affected_resources, auto_approve,
		 created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.ProjectID, string(m.Operation), string(changesJSON), m.ChangesHash,
		m.Description, string(m.Status), string(m.Risk), boolToInt(m.RequiresApproval),
		string(resourcesJSON), boolToInt(m.AutoApprove), m.CreatedBy,
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
	)
	if err != nil {
		return mutation.Mutation{}, fmt.Errorf("create mutation: insert: %w", err)
	}

	ev, err := s.insertEventTx(ctx, tx, mutation.SubjectMutation, m.ID,
		string(m.Status), "mutation submitted", nil, now)
	if err != nil {
		return mutation.Mutation{}, fmt.Errorf("create mutation: %w", err)
	}
	m.Seq = ev.Seq

	if err := tx.Commit(); err != nil {
		return mutation.Mutation{}, fmt.Errorf("create mutation: commit: %w", err)
	}

	s.emit(ev)
	return m, nil
}

// GetMutation returns the current projection of a mutation, including the
// latest event sequence number. Fails with NotFound for unknown ids.
func (s *Store) GetMutation(ctx context.Context, id string) (mutation.Mutation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT m.id, m.project_id, m.operation, m.changes, m.changes_hash,
		       m.description, m.status, m.risk, m.requires_approval,
		       m.affected_resources, m.auto_approve, m.created_by, m.approved_by,
		       m.error_detail, m.created_at, m.updated_at, m.executed_at,
		       m.completed_at, m.decided_at,
		       (SELECT COALESCE(MAX(seq), 0) FROM events
		        WHERE subject_type = 'mutation' AND subject_id = m.id)
		FROM mutations m
		WHERE m.id = ?
	`, id)

	m, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return mutation.Mutation{}, mutation.NewNotFound(mutation.SubjectMutation, id)
	}
	if err != nil {
		return mutation.Mutation{}, fmt.Errorf("get mutation: %w", err)
	}
	return m, nil
}

// Transition performs an optimistic compare-and-set on a mutation's
// status and emits the corresponding status event in the same transaction.
//
// The caller presents the status it believes is current. If the stored
// status differs, Transition fails with Conflict and the caller must
// re-read and decide whether to retry. Illegal (from, to) pairs fail with
// Conflict without touching the record.
//
// Timestamp invariants are enforced here: executed_at is set only when
// entering executing, completed_at only when entering a terminal state,
// decided_at when entering approved or rejected.
func (s *Store) Transition(ctx context.Context, id string, from, to mutation.Status, fields TransitionFields) (mutation.Mutation, error) {
	if !from.CanTransitionTo(to) {
		return mutation.Mutation{}, mutation.NewConflict(mutation.SubjectMutation, id,
			fmt.Sprintf("illegal transition %s -> %s", from, to))
	}

	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mutation.Mutation{}, fmt.Errorf("transition: begin tx: %w", err)
	}
	defer tx.Rollback()

	set := "status = ?, updated_at = ?"
	args := []any{string(to), formatTime(now)}

	switch {
	case to == mutation.StatusExecuting:
		set += ", executed_at = ?"
		args = append(args, formatTime(now))
	case to.Terminal():
		set += ", completed_at = ?"
		args = append(args, formatTime(now))
	}
	if to == mutation.StatusApproved || to == mutation.StatusRejected {
		set += ", decided_at = ?, approved_by = ?"
		args = append(args, formatTime(now), fields.DecidedBy)
	}
	if to == mutation.StatusFailed && fields.ErrorDetail != "" {
		set += ", error_detail = ?"
		args = append(args, fields.ErrorDetail)
	}

	args = append(args, id, string(from))
	res, err := tx.ExecContext(ctx,
		"UPDATE mutations SET "+set+" WHERE id = ? AND status = ?", args...)
	if err != nil {
		return mutation.Mutation{}, fmt.Errorf("transition: update: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return mutation.Mutation{}, fmt.Errorf("transition: rows affected: %w", err)
	}
	if affected == 0 {
		// Lost the race or the id is unknown; distinguish for the caller.
		var current string
		err := tx.QueryRowContext(ctx,
			"SELECT status FROM mutations WHERE id = ?", id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return mutation.Mutation{}, mutation.NewNotFound(mutation.SubjectMutation, id)
		}
		if err != nil {
			return mutation.Mutation{}, fmt.Errorf("transition: read current status: %w", err)
		}
		return mutation.Mutation{}, mutation.NewConflict(mutation.SubjectMutation, id,
			fmt.Sprintf("expected status %s, found %s", from, current))
	}

	ev, err := s.insertEventTx(ctx, tx, mutation.SubjectMutation, id,
		string(to), fields.Message, fields.Progress, now)
	if err != nil {
		return mutation.Mutation{}, fmt.Errorf("transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return mutation.Mutation{}, fmt.Errorf("transition: commit: %w", err)
	}

	s.emit(ev)
	return s.GetMutation(ctx, id)
}

// ClaimNextQueued atomically claims the oldest queued mutation for
// execution, moving it to executing. Returns (nil, nil) when nothing is
// queued.
//
// Single-claim semantics: the claim is a compare-and-set from queued to
// executing, so concurrent executors racing on the same record produce
// exactly one winner; the losers simply see the next queued record or
// none.
func (s *Store) ClaimNextQueued(ctx context.Context) (*mutation.Mutation, error) {
	for {
		var id string
		err := s.db.QueryRowContext(ctx, `
			SELECT id FROM mutations
			WHERE status = ?
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		`, string(mutation.StatusQueued)).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("claim next: %w", err)
		}

		m, err := s.Transition(ctx, id, mutation.StatusQueued, mutation.StatusExecuting,
			TransitionFields{Message: "claimed for execution"})
		if mutation.IsConflict(err) {
			// Another executor won this record; try the next one.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("claim next: %w", err)
		}
		return &m, nil
	}
}

// AppendLog appends an entry to a mutation's execution log without
// altering status. Concurrent appends interleave but never lose entries.
func (s *Store) AppendLog(ctx context.Context, id, entry string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO mutation_log (mutation_id, entry, logged_at)
		SELECT id, ?, ? FROM mutations WHERE id = ?
	`, entry, formatTime(s.now().UTC()), id)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append log: rows affected: %w", err)
	}
	if affected == 0 {
		return mutation.NewNotFound(mutation.SubjectMutation, id)
	}
	return nil
}

// ReadLog returns a mutation's execution log in insertion order.
// Returns an empty slice (not nil) for a mutation with no entries.
func (s *Store) ReadLog(ctx context.Context, id string) ([]mutation.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mutation_id, entry, logged_at
		FROM mutation_log
		WHERE mutation_id = ?
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer rows.Close()

	entries := []mutation.LogEntry{}
	for rows.Next() {
		var e mutation.LogEntry
		var loggedAt string
		if err := rows.Scan(&e.MutationID, &e.Entry, &loggedAt); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		t, err := parseTime(loggedAt)
		if err != nil {
			return nil, err
		}
		e.LoggedAt = t
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log entries: %w", err)
	}

	return entries, nil
}

// ListMutations returns mutations for a project ordered by creation time.
// An empty projectID lists all projects.
func (s *Store) ListMutations(ctx context.Context, projectID string) ([]mutation.Mutation, error) {
	query := `
		SELECT m.id, m.project_id, m.operation, m.changes, m.changes_hash,
		       m.description, m.status, m.risk, m.requires_approval,
		       m.affected_resources, m.auto_approve, m.created_by, m.approved_by,
		       m.error_detail, m.created_at, m.updated_at, m.executed_at,
		       m.completed_at, m.decided_at,
		       (SELECT COALESCE(MAX(seq), 0) FROM events
		        WHERE subject_type = 'mutation' AND subject_id = m.id)
		FROM mutations m
	`
	var args []any
	if projectID != "" {
		query += " WHERE m.project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY m.created_at ASC, m.id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list mutations: %w", err)
	}
	defer rows.Close()

	muts := []mutation.Mutation{}
	for rows.Next() {
		m, err := scanMutationRows(rows)
		if err != nil {
			return nil, err
		}
		muts = append(muts, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mutations: %w", err)
	}

	return muts, nil
}

// rowScanner abstracts sql.Row and sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMutation(row rowScanner) (mutation.Mutation, error) {
	var m mutation.Mutation
	var operation, changesJSON, status, risk, resourcesJSON string
	var requiresApproval, autoApprove int
	var createdAt, updatedAt string
	var executedAt, completedAt, decidedAt sql.NullString

	if err := row.Scan(
		&m.ID, &m.ProjectID, &operation, &changesJSON, &m.ChangesHash,
		&m.Description, &status, &risk, &requiresApproval,
		&resourcesJSON, &autoApprove, &m.CreatedBy, &m.ApprovedBy,
		&m.ErrorDetail, &createdAt, &updatedAt, &executedAt,
		&completedAt, &decidedAt, &m.Seq,
	); err != nil {
		return mutation.Mutation{}, err
	}

	m.Operation = mutation.OperationKind(operation)
	m.Status = mutation.Status(status)
	m.Risk = mutation.RiskLevel(risk)
	m.RequiresApproval = requiresApproval != 0
	m.AutoApprove = autoApprove != 0

	if err := json.Unmarshal([]byte(changesJSON), &m.Changes); err != nil {
		return mutation.Mutation{}, fmt.Errorf("unmarshal changes: %w", err)
	}
	if err := json.Unmarshal([]byte(resourcesJSON), &m.AffectedResources); err != nil {
		return mutation.Mutation{}, fmt.Errorf("unmarshal resources: %w", err)
	}

	var err error
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return mutation.Mutation{}, err
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return mutation.Mutation{}, err
	}
	if m.ExecutedAt, err = parseNullableTime(executedAt); err != nil {
		return mutation.Mutation{}, err
	}
	if m.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return mutation.Mutation{}, err
	}
	if m.DecidedAt, err = parseNullableTime(decidedAt); err != nil {
		return mutation.Mutation{}, err
	}

	return m, nil
}

func scanMutationRows(rows *sql.Rows) (mutation.Mutation, error) {
	m, err := scanMutation(rows)
	if err != nil {
		return mutation.Mutation{}, fmt.Errorf("scan mutation: %w", err)
	}
	return m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
