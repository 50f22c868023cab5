package mutation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefix for content-addressed change payload identity.
// Version suffix enables future algorithm migration.
const domainChanges = "specmut/changes/v1"

// ChangesHash computes the audit identity of a change payload: SHA-256 over
// canonical JSON with domain separation.
//
// Format: SHA256(domain + 0x00 + canonicalJSON). The null byte separator
// prevents domain/data boundary ambiguity.
//
// The hash is stable across restarts and independent of map iteration
// order, so a policy decision recorded against a hash can be re-verified
// against history.
func ChangesHash(changes map[string]any) (string, error) {
	canonical, err := MarshalCanonical(changes)
	if err != nil {
		return "", fmt.Errorf("hash changes: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(domainChanges))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
