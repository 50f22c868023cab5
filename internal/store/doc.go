// Package store is the durable record store for mutations, approval
// requests, status events, and execution logs. It is the single source of
// truth: every other component reads projections from it or consumes
// events referencing its records by id.
//
// Concurrency discipline: every state change is an optimistic
// compare-and-set committed in a single SQLite transaction. The status
// event for a transition is written with the next per-subject sequence
// number inside that same transaction, so observed sequence numbers are
// strictly increasing and gap-free per subject from creation.
package store
