// Package engine drives mutations through their lifecycle: submission,
// risk assessment, approval gating, execution claiming, and outcome
// recording.
//
// The engine holds no state of its own. Every state change is an
// optimistic compare-and-set against the record store, so many engines
// (or many callers of one engine) can operate on the same database
// concurrently: transitions never block each other and racing writers
// produce exactly one winner, with the losers observing Conflict.
//
// Approval expiry is lazy. Nothing scans for lapsed requests; the next
// read or decision attempt on an expired request marks it expired and
// fails its gated mutations.
package engine
