package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/specauthority/authority"
	"github.com/c360studio/specauthority/canonical"
)

func forbidden(id, term string) authority.Invariant {
	return authority.Invariant{
		ID:        id,
		Type:      authority.InvariantForbiddenCapability,
		Forbidden: &authority.ForbiddenCapabilityParams{Term: term},
	}
}

func requiredField(id, field string) authority.Invariant {
	return authority.Invariant{
		ID:            id,
		Type:          authority.InvariantRequiredField,
		RequiredField: &authority.RequiredFieldParams{Field: field},
	}
}

func TestNormalizeOverwritesPromptHash(t *testing.T) {
	success := &authority.SuccessArtifact{PromptHash: "claimed-by-the-model"}
	require.NoError(t, Normalize(success, "pinned instruction text"))
	assert.Equal(t, canonical.Hash("pinned instruction text"), success.PromptHash)
}

func TestNormalizeIDMatch(t *testing.T) {
	success := &authority.SuccessArtifact{
		Invariants: []authority.Invariant{
			forbidden("INV-a", "OAuth1"),
			requiredField("INV-b", "user_id"),
		},
		SourceMap: []authority.SourceMapEntry{
			{InvariantID: "INV-b", Excerpt: "The payload must include user_id."},
			{InvariantID: "INV-a", Excerpt: "OAuth1 is out of scope."},
		},
	}

	require.NoError(t, Normalize(success, "instr"))

	wantForbidden := canonical.InvariantID("OAuth1 is out of scope.", "FORBIDDEN_CAPABILITY")
	wantRequired := canonical.InvariantID("The payload must include user_id.", "REQUIRED_FIELD")
	assert.Equal(t, wantForbidden, success.Invariants[0].ID)
	assert.Equal(t, wantRequired, success.Invariants[1].ID)
	assert.Equal(t, wantRequired, success.SourceMap[0].InvariantID)
	assert.Equal(t, wantForbidden, success.SourceMap[1].InvariantID)
}

func TestNormalizePositionalMatchForRepeatedPlaceholders(t *testing.T) {
	// The external step may emit the same placeholder id everywhere; with
	// equal counts the pairing falls back to position.
	success := &authority.SuccessArtifact{
		Invariants: []authority.Invariant{
			forbidden("INV-XXXX", "OAuth1"),
			forbidden("INV-XXXX", "SAML"),
		},
		SourceMap: []authority.SourceMapEntry{
			{InvariantID: "INV-XXXX", Excerpt: "OAuth1 is out of scope."},
			{InvariantID: "INV-XXXX", Excerpt: "SAML is out of scope."},
		},
	}

	require.NoError(t, Normalize(success, "instr"))
	assert.Equal(t, canonical.InvariantID("OAuth1 is out of scope.", "FORBIDDEN_CAPABILITY"),
		success.Invariants[0].ID)
	assert.Equal(t, canonical.InvariantID("SAML is out of scope.", "FORBIDDEN_CAPABILITY"),
		success.Invariants[1].ID)
	assert.NotEqual(t, success.Invariants[0].ID, success.Invariants[1].ID)
}

func TestNormalizeSingletonMatch(t *testing.T) {
	// One invariant, several supporting excerpts with useless ids: all
	// entries resolve to the sole invariant.
	success := &authority.SuccessArtifact{
		Invariants: []authority.Invariant{requiredField("", "user_id")},
		SourceMap: []authority.SourceMapEntry{
			{InvariantID: "", Excerpt: "The payload must include user_id."},
			{InvariantID: "bogus", Excerpt: "user_id is mandatory everywhere."},
		},
	}

	require.NoError(t, Normalize(success, "instr"))
	want := canonical.InvariantID("The payload must include user_id.", "REQUIRED_FIELD")
	assert.Equal(t, want, success.Invariants[0].ID)
	for _, e := range success.SourceMap {
		assert.Equal(t, want, e.InvariantID)
	}
}

func TestNormalizeAmbiguousCountsFail(t *testing.T) {
	// Two invariants, three entries, no usable ids: neither 1:1 nor
	// singleton. Guessing is forbidden; the whole compilation is rejected.
	success := &authority.SuccessArtifact{
		Invariants: []authority.Invariant{
			forbidden("", "OAuth1"),
			forbidden("", "SAML"),
		},
		SourceMap: []authority.SourceMapEntry{
			{Excerpt: "a"}, {Excerpt: "b"}, {Excerpt: "c"},
		},
	}

	err := Normalize(success, "instr")
	assert.ErrorIs(t, err, ErrSourceMapMismatch)
}

func TestNormalizeUnmatchedEntryFails(t *testing.T) {
	success := &authority.SuccessArtifact{
		Invariants: []authority.Invariant{forbidden("INV-a", "OAuth1"), forbidden("INV-b", "SAML")},
		SourceMap: []authority.SourceMapEntry{
			{InvariantID: "INV-a", Excerpt: "OAuth1 is out of scope."},
			{InvariantID: "INV-b", Excerpt: "SAML is out of scope."},
			{InvariantID: "INV-orphan", Excerpt: "floating excerpt"},
		},
	}

	err := Normalize(success, "instr")
	assert.ErrorIs(t, err, ErrSourceMapMismatch)
}

func TestNormalizeMissingExcerptFails(t *testing.T) {
	success := &authority.SuccessArtifact{
		Invariants: []authority.Invariant{forbidden("INV-a", "OAuth1"), forbidden("INV-b", "SAML")},
		SourceMap: []authority.SourceMapEntry{
			{InvariantID: "INV-a", Excerpt: "OAuth1 is out of scope."},
		},
	}

	err := Normalize(success, "instr")
	assert.ErrorIs(t, err, ErrSourceMapMismatch)
}

func TestNormalizeEntriesWithoutInvariantsFail(t *testing.T) {
	success := &authority.SuccessArtifact{
		SourceMap: []authority.SourceMapEntry{{Excerpt: "dangling"}},
	}
	assert.ErrorIs(t, Normalize(success, "instr"), ErrSourceMapMismatch)
}

func TestNormalizeEmptyArtifact(t *testing.T) {
	success := &authority.SuccessArtifact{}
	assert.NoError(t, Normalize(success, "instr"))
}
