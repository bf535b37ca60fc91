package compiler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/specauthority/authority"
	"github.com/c360studio/specauthority/canonical"
	"github.com/c360studio/specauthority/storage"
)

// scriptedCaller returns a fixed output and counts invocations.
type scriptedCaller struct {
	output string
	calls  int
}

func (c *scriptedCaller) CompileSpec(_ context.Context, _, _ string) (string, error) {
	c.calls++
	return c.output, nil
}

const instruction = "Extract scope themes and invariants from the spec."

const successOutput = "Here is the compiled authority:\n```json\n" + `{
	"scope_themes": ["authentication"],
	"invariants": [
		{"id": "INV-placeholder", "type": "FORBIDDEN_CAPABILITY", "parameters": {"term": "OAuth1"}}
	],
	"eligible_feature_rules": [],
	"gaps": [],
	"assumptions": [],
	"source_map": [
		{"invariant_id": "INV-placeholder", "excerpt": "OAuth1 is out of scope."}
	],
	"compiler_version": "model-claimed",
	"prompt_hash": "model-claimed"
}` + "\n```\n"

func seedSpec(t *testing.T, store storage.Store, status authority.SpecStatus) *authority.SpecVersion {
	t.Helper()
	now := time.Now()
	v := &authority.SpecVersion{
		ID:          storage.NewEntityID(storage.EntityTypeSpec).String(),
		Product:     "checkout",
		Content:     "OAuth1 is out of scope.",
		ContentHash: canonical.Hash("OAuth1 is out of scope."),
		Status:      status,
		CreatedAt:   now,
	}
	if status == authority.SpecStatusApproved {
		v.ApprovedAt = &now
	}
	require.NoError(t, store.CreateSpec(context.Background(), v))
	return v
}

func TestCompileRequiresApproval(t *testing.T) {
	store := storage.NewMemoryStore()
	v := seedSpec(t, store, authority.SpecStatusDraft)
	caller := &scriptedCaller{output: successOutput}
	c := New(store, caller, instruction, "compiler/1")

	_, err := c.Compile(context.Background(), v.ID, false)
	assert.ErrorIs(t, err, ErrNotApproved)
	assert.Zero(t, caller.calls)
}

func TestCompileAndCache(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	v := seedSpec(t, store, authority.SpecStatusApproved)
	caller := &scriptedCaller{output: successOutput}
	c := New(store, caller, instruction, "compiler/1")

	first, err := c.Compile(ctx, v.ID, false)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 1, first.InvariantsCount)
	assert.Equal(t, 1, first.ScopeThemesCount)
	assert.Equal(t, 1, caller.calls)

	// Identical artifact, no external call spent.
	second, err := c.Compile(ctx, v.ID, false)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.AuthorityID, second.AuthorityID)
	assert.Equal(t, 1, caller.calls)

	// Everything claimed by the model was re-derived by the host.
	stored, err := store.GetAuthority(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, canonical.Hash(instruction), stored.PromptHash)
	assert.Equal(t, "compiler/1", stored.CompilerVersion)
	wantID := canonical.InvariantID("OAuth1 is out of scope.", "FORBIDDEN_CAPABILITY")
	assert.Equal(t, wantID, stored.Artifact.Invariants[0].ID)
	assert.Equal(t, wantID, stored.Artifact.SourceMap[0].InvariantID)
}

func TestCompileForceRecompiles(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	v := seedSpec(t, store, authority.SpecStatusApproved)
	caller := &scriptedCaller{output: successOutput}
	c := New(store, caller, instruction, "compiler/1")

	_, err := c.Compile(ctx, v.ID, false)
	require.NoError(t, err)

	forced, err := c.Compile(ctx, v.ID, true)
	require.NoError(t, err)
	assert.False(t, forced.Cached)
	assert.Equal(t, 2, caller.calls)
}

func TestCompileFailureEnvelopeNotCached(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	v := seedSpec(t, store, authority.SpecStatusApproved)
	caller := &scriptedCaller{output: `{"error": "BLOCKED", "reason": "blocking gaps", "blocking_gaps": ["auth scheme"]}`}
	c := New(store, caller, instruction, "compiler/1")

	res, err := c.Compile(ctx, v.ID, false)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, "BLOCKED", res.Failure.Error)
	assert.Empty(t, res.AuthorityID)

	_, err = store.GetAuthority(ctx, v.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCompileRejectsUnparseableOutput(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	v := seedSpec(t, store, authority.SpecStatusApproved)
	caller := &scriptedCaller{output: "I could not produce JSON, sorry."}
	c := New(store, caller, instruction, "compiler/1")

	_, err := c.Compile(ctx, v.ID, false)
	assert.ErrorIs(t, err, ErrNoArtifact)
}

func TestCompileRejectsMismatchWithoutPersisting(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	v := seedSpec(t, store, authority.SpecStatusApproved)
	caller := &scriptedCaller{output: `{
		"invariants": [
			{"id": "", "type": "FORBIDDEN_CAPABILITY", "parameters": {"term": "OAuth1"}},
			{"id": "", "type": "FORBIDDEN_CAPABILITY", "parameters": {"term": "SAML"}}
		],
		"source_map": [{"invariant_id": "", "excerpt": "only one excerpt"}]
	}`}
	c := New(store, caller, instruction, "compiler/1")

	_, err := c.Compile(ctx, v.ID, false)
	assert.ErrorIs(t, err, ErrSourceMapMismatch)

	_, err = store.GetAuthority(ctx, v.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCompileLosesBenignRace(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	v := seedSpec(t, store, authority.SpecStatusApproved)

	// Another process compiled between our cache check and our write.
	rival := &authority.CompiledAuthority{
		ID:            storage.NewEntityID(storage.EntityTypeAuthority).String(),
		SpecVersionID: v.ID,
		Product:       v.Product,
	}

	caller := &scriptedCaller{output: successOutput}
	c := New(store, caller, instruction, "compiler/1", withClock(func() time.Time {
		// Injecting the rival during the external call window simulates the
		// concurrent writer.
		_ = store.CreateAuthority(ctx, rival)
		return time.Now()
	}))

	res, err := c.Compile(ctx, v.ID, false)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, rival.ID, res.AuthorityID)
}
