// Package mutation defines the core record types of the orchestration
// engine: Mutation, ApprovalRequest, StatusEvent, and the shared error
// taxonomy.
//
// These types are the wire and storage vocabulary for every other package.
// The store owns the canonical records; everything else holds read-only
// projections or events referencing them by id.
//
// Change payloads are opaque structured data. Their identity for audit
// purposes is a domain-separated SHA-256 over canonical JSON (see hash.go),
// so the same logical payload always hashes identically regardless of map
// iteration order or unicode representation.
package mutation
