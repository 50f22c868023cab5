package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/specmut/internal/mutation"
)

// insertEventTx writes a status event for a subject with the next
// per-subject sequence number, inside the transaction that commits the
// underlying transition.
//
// Seq is COALESCE(MAX(seq), 0) + 1 scoped to the subject. The store's
// single connection serializes transactions, and the (subject_type,
// subject_id, seq) primary key rejects any write that would duplicate or
// skip a sequence number.
func (s *Store) insertEventTx(
	ctx context.Context,
	tx *sql.Tx,
	subject mutation.SubjectType,
	subjectID, status, message string,
	progress *int,
	emittedAt time.Time,
) (mutation.StatusEvent, error) {
	var seq int64
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM events
		WHERE subject_type = ? AND subject_id = ?
	`, string(subject), subjectID).Scan(&seq)
	if err != nil {
		return mutation.StatusEvent{}, fmt.Errorf("next seq: %w", err)
	}

	ev := mutation.StatusEvent{
		ID:        s.gen.Generate(),
		Subject:   subject,
		SubjectID: subjectID,
		Status:    status,
		Progress:  progress,
		Message:   message,
		Seq:       seq,
		EmittedAt: emittedAt,
	}

	var prog any
	if progress != nil {
		prog = *progress
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, subject_type, subject_id, status, progress, message, seq, emitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, string(ev.Subject), ev.SubjectID, ev.Status, prog, ev.Message, ev.Seq, formatTime(ev.EmittedAt))
	if err != nil {
		return mutation.StatusEvent{}, fmt.Errorf("insert event: %w", err)
	}

	return ev, nil
}

// EmitProgress records a progress report from the execution collaborator
// as a status event without altering the mutation's status. The event
// takes the next sequence number like any transition event, so mirrors
// consume it through the same gap-detection discipline.
func (s *Store) EmitProgress(ctx context.Context, mutationID string, progress int, message string) (mutation.StatusEvent, error) {
	m, err := s.GetMutation(ctx, mutationID)
	if err != nil {
		return mutation.StatusEvent{}, err
	}
	if m.Status != mutation.StatusExecuting {
		return mutation.StatusEvent{}, mutation.NewConflict(mutation.SubjectMutation, mutationID,
			fmt.Sprintf("progress reported while %s, expected executing", m.Status))
	}

	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mutation.StatusEvent{}, fmt.Errorf("emit progress: begin tx: %w", err)
	}
	defer tx.Rollback()

	ev, err := s.insertEventTx(ctx, tx, mutation.SubjectMutation, mutationID,
		string(m.Status), message, &progress, now)
	if err != nil {
		return mutation.StatusEvent{}, fmt.Errorf("emit progress: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return mutation.StatusEvent{}, fmt.Errorf("emit progress: commit: %w", err)
	}

	s.emit(ev)
	return ev, nil
}

// EventsSince returns all events for a subject with seq > afterSeq,
// ordered by seq. Used by mirrors to fill a detected gap and by the
// pull-based event boundary.
//
// Returns an empty slice (not nil) if there are no newer events.
func (s *Store) EventsSince(ctx context.Context, subject mutation.SubjectType, subjectID string, afterSeq int64) ([]mutation.StatusEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_type, subject_id, status, progress, message, seq, emitted_at
		FROM events
		WHERE subject_type = ? AND subject_id = ? AND seq > ?
		ORDER BY seq ASC
	`, string(subject), subjectID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// EventsAfter returns all events with rowid greater than cursor, across
// all subjects, together with the new cursor position. Per-subject seq is
// the only ordering guarantee; the rowid cursor exists solely so a poller
// never sees the same event twice.
func (s *Store) EventsAfter(ctx context.Context, cursor int64) ([]mutation.StatusEvent, int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rowid, id, subject_type, subject_id, status, progress, message, seq, emitted_at
		FROM events
		WHERE rowid > ?
		ORDER BY rowid ASC
	`, cursor)
	if err != nil {
		return nil, cursor, fmt.Errorf("query events after cursor: %w", err)
	}
	defer rows.Close()

	events := []mutation.StatusEvent{}
	last := cursor
	for rows.Next() {
		var rowid int64
		ev, err := scanEventWith(rows, &rowid)
		if err != nil {
			return nil, cursor, err
		}
		events = append(events, ev)
		last = rowid
	}
	if err := rows.Err(); err != nil {
		return nil, cursor, fmt.Errorf("iterate events: %w", err)
	}

	return events, last, nil
}

// CurrentSeq returns the latest sequence number for a subject, or 0 if no
// events exist. Mirrors reset lastApplied to this value after a full
// re-fetch.
func (s *Store) CurrentSeq(ctx context.Context, subject mutation.SubjectType, subjectID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM events
		WHERE subject_type = ? AND subject_id = ?
	`, string(subject), subjectID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("current seq: %w", err)
	}
	return seq, nil
}

// PruneEvents deletes events emitted before the cutoff, always retaining
// the newest event of each subject so CurrentSeq keeps reporting the
// authoritative position. Consumers that missed pruned events fall back
// to a full re-fetch, which is the designed recovery path.
func (s *Store) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM events
		WHERE emitted_at < ?
		AND seq < (
			SELECT MAX(e2.seq) FROM events e2
			WHERE e2.subject_type = events.subject_type
			AND e2.subject_id = events.subject_id
		)
	`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune events: rows affected: %w", err)
	}
	return n, nil
}

func collectEvents(rows *sql.Rows) ([]mutation.StatusEvent, error) {
	events := []mutation.StatusEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (mutation.StatusEvent, error) {
	var ev mutation.StatusEvent
	var subject, emittedAt string
	var progress sql.NullInt64

	if err := rows.Scan(
		&ev.ID, &subject, &ev.SubjectID, &ev.Status, &progress, &ev.Message, &ev.Seq, &emittedAt,
	); err != nil {
		return mutation.StatusEvent{}, fmt.Errorf("scan event: %w", err)
	}

	return finishEvent(ev, subject, emittedAt, progress)
}

func scanEventWith(rows *sql.Rows, rowid *int64) (mutation.StatusEvent, error) {
	var ev mutation.StatusEvent
	var subject, emittedAt string
	var progress sql.NullInt64

	if err := rows.Scan(
		rowid, &ev.ID, &subject, &ev.SubjectID, &ev.Status, &progress, &ev.Message, &ev.Seq, &emittedAt,
	); err != nil {
		return mutation.StatusEvent{}, fmt.Errorf("scan event: %w", err)
	}

	return finishEvent(ev, subject, emittedAt, progress)
}

func finishEvent(ev mutation.StatusEvent, subject, emittedAt string, progress sql.NullInt64) (mutation.StatusEvent, error) {
	ev.Subject = mutation.SubjectType(subject)
	if progress.Valid {
		p := int(progress.Int64)
		ev.Progress = &p
	}

	t, err := parseTime(emittedAt)
	if err != nil {
		return mutation.StatusEvent{}, err
	}
	ev.EmittedAt = t

	return ev, nil
}
