package compiler

import (
	"fmt"

	"github.com/c360studio/specauthority/authority"
	"github.com/c360studio/specauthority/canonical"
)

// Normalize rewrites a Success artifact so that nothing the external step
// claimed survives unverified:
//
//   - the claimed prompt hash is replaced with the host-computed hash of the
//     pinned instruction text;
//   - each invariant is resolved to its supporting excerpt — by id match
//     when the claimed id is unambiguous, by position when source-map and
//     invariant counts are equal, or by sole-match when there is exactly one
//     invariant;
//   - the invariant id and the ids of all its matched source-map entries are
//     recomputed from that excerpt.
//
// Any invariant without a resolvable excerpt, or any source-map entry left
// unmatched, rejects the whole compilation with ErrSourceMapMismatch.
// Ambiguous inputs are never paired by guesswork.
func Normalize(success *authority.SuccessArtifact, instruction string) error {
	success.PromptHash = canonical.Hash(instruction)

	invariants := success.Invariants
	entries := success.SourceMap

	if len(invariants) == 0 {
		if len(entries) > 0 {
			return fmt.Errorf("%d source map entries with no invariants: %w",
				len(entries), ErrSourceMapMismatch)
		}
		return nil
	}

	// claimCount tracks how many invariants claim each non-empty id, so an
	// id shared by several invariants (repeated placeholders) is treated as
	// no id match at all rather than paired arbitrarily.
	claimCount := make(map[string]int, len(invariants))
	for _, inv := range invariants {
		if inv.ID != "" {
			claimCount[inv.ID]++
		}
	}

	matched := make([]bool, len(entries))
	positional := len(entries) == len(invariants)
	singleton := len(invariants) == 1

	for i := range invariants {
		inv := &invariants[i]

		var support []int
		switch {
		case inv.ID != "" && claimCount[inv.ID] == 1 && entryIndexes(entries, inv.ID) != nil:
			support = entryIndexes(entries, inv.ID)
		case positional:
			support = []int{i}
		case singleton:
			support = allIndexes(entries)
		default:
			return fmt.Errorf("invariant %d (%s) has no resolvable excerpt: %w",
				i, inv.Type, ErrSourceMapMismatch)
		}

		if len(support) == 0 {
			return fmt.Errorf("invariant %d (%s) has no resolvable excerpt: %w",
				i, inv.Type, ErrSourceMapMismatch)
		}

		excerpt := entries[support[0]].Excerpt
		id := canonical.InvariantID(excerpt, string(inv.Type))
		inv.ID = id
		for _, j := range support {
			entries[j].InvariantID = id
			matched[j] = true
		}
	}

	for j, ok := range matched {
		if !ok {
			return fmt.Errorf("source map entry %d (%q) matches no invariant: %w",
				j, entries[j].InvariantID, ErrSourceMapMismatch)
		}
	}

	return nil
}

// entryIndexes returns the indexes of entries claiming the given invariant id,
// or nil when none do.
func entryIndexes(entries []authority.SourceMapEntry, id string) []int {
	var out []int
	for j, e := range entries {
		if e.InvariantID == id {
			out = append(out, j)
		}
	}
	return out
}

func allIndexes(entries []authority.SourceMapEntry) []int {
	out := make([]int, len(entries))
	for j := range entries {
		out[j] = j
	}
	return out
}
