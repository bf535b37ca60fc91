// Package canonical provides deterministic text normalization and hashing.
// Every identifier in the authority subsystem is derived through this package,
// so that identical spec content always resolves to the same version and
// identical invariant excerpts always resolve to the same invariant id.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// invariantIDPrefix prefixes all derived invariant identifiers.
const invariantIDPrefix = "INV-"

// invariantIDHexLen is the number of hex characters kept from the digest.
const invariantIDHexLen = 16

// Canonicalize normalizes text for hashing: lowercase, whitespace runs
// collapsed to single spaces, leading/trailing whitespace trimmed.
func Canonicalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Hash returns the hex-encoded SHA-256 of the canonicalized text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(Canonicalize(text)))
	return hex.EncodeToString(sum[:])
}

// InvariantID derives the deterministic invariant identifier from its
// supporting excerpt and type. The id is a pure function of its inputs:
// the same (excerpt, type) pair yields the same id in any process.
func InvariantID(excerpt, invariantType string) string {
	sum := sha256.Sum256([]byte(Canonicalize(excerpt) + "|" + invariantType))
	return invariantIDPrefix + hex.EncodeToString(sum[:])[:invariantIDHexLen]
}

// InputHash derives the evidence input hash from the candidate artifact's
// user-visible fields. Fields are newline-joined before canonicalization so
// that field boundaries survive whitespace collapsing.
func InputHash(title, description string, acceptanceCriteria []string) string {
	parts := append([]string{title, description}, acceptanceCriteria...)
	return Hash(strings.Join(parts, "\n"))
}
