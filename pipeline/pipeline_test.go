package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/specauthority/authority"
	"github.com/c360studio/specauthority/canonical"
	"github.com/c360studio/specauthority/check/alignment"
	"github.com/c360studio/specauthority/check/contract"
	"github.com/c360studio/specauthority/check/persona"
	"github.com/c360studio/specauthority/evidence"
	"github.com/c360studio/specauthority/gate"
	"github.com/c360studio/specauthority/storage"
)

// stubGenerator turns a request into a minimal compliant story.
type stubGenerator struct {
	mu      sync.Mutex
	calls   int
	persona string
	suffix  string
	fail    map[string]error
}

func (g *stubGenerator) GenerateStory(_ context.Context, req FeatureRequest, _ *authority.CompiledAuthority) (*authority.Story, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if err := g.fail[req.Title]; err != nil {
		return nil, err
	}
	role := g.persona
	if role == "" {
		role = "customer"
	}
	return &authority.Story{
		ID:          "story:" + req.Title,
		Product:     req.Product,
		Title:       req.Title,
		Description: fmt.Sprintf("As a %s, I want %s%s", role, req.Description, g.suffix),
		Persona:     role,
		SelfReported: authority.SelfReport{
			ValidatorPassed:  true,
			CompliancePassed: true,
			Valid:            true,
		},
	}, nil
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type env struct {
	store   storage.Store
	version *authority.SpecVersion
	gen     *stubGenerator
}

// seedEnv seeds an approved, compiled version for "checkout" with the given
// forbidden terms. The version has no acceptance decision yet.
func seedEnv(t *testing.T, forbiddenTerms ...string) *env {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	now := time.Now()

	v := &authority.SpecVersion{
		ID:          storage.NewEntityID(storage.EntityTypeSpec).String(),
		Product:     "checkout",
		Content:     "spec text",
		ContentHash: canonical.Hash("spec text"),
		Status:      authority.SpecStatusApproved,
		ApprovedAt:  &now,
		CreatedAt:   now,
	}
	require.NoError(t, store.CreateSpec(ctx, v))

	a := &authority.CompiledAuthority{
		ID:            storage.NewEntityID(storage.EntityTypeAuthority).String(),
		SpecVersionID: v.ID,
		Product:       "checkout",
		CompiledAt:    now,
	}
	for _, term := range forbiddenTerms {
		a.Artifact.Invariants = append(a.Artifact.Invariants, authority.Invariant{
			ID:        canonical.InvariantID(term+" is out of scope.", "FORBIDDEN_CAPABILITY"),
			Type:      authority.InvariantForbiddenCapability,
			Forbidden: &authority.ForbiddenCapabilityParams{Term: term},
		})
	}
	require.NoError(t, store.CreateAuthority(ctx, a))

	return &env{store: store, version: v, gen: &stubGenerator{}}
}

// newEnv is seedEnv plus an accepting gate decision.
func newEnv(t *testing.T, forbiddenTerms ...string) *env {
	t.Helper()
	e := seedEnv(t, forbiddenTerms...)
	_, err := gate.New(e.store).Accept(context.Background(),
		"checkout", e.version.ID, authority.PolicyAuto, "pipeline", "seeded")
	require.NoError(t, err)
	return e
}

func (e *env) runner(t *testing.T, cfg contract.Config, opts ...Option) *Runner {
	t.Helper()
	checker := alignment.New()
	rec := evidence.New(e.store, gate.New(e.store), checker, contract.New(cfg, nil), "validator/1")
	return NewRunner(e.store, rec, checker, e.gen, opts...)
}

func (e *env) request(title, description string) FeatureRequest {
	return FeatureRequest{
		Product:       "checkout",
		SpecVersionID: e.version.ID,
		Title:         title,
		Description:   description,
	}
}

func TestRunAcceptsCompliantFeature(t *testing.T) {
	e := newEnv(t)
	r := e.runner(t, contract.DefaultConfig())

	results := r.Run(context.Background(), []FeatureRequest{
		e.request("Guest checkout", "to check out without an account"),
	})

	require.Len(t, results, 1)
	assert.Equal(t, StateAccepted, results[0].State)
	require.NotNil(t, results[0].Story)
	assert.Equal(t, e.version.ID, results[0].Story.AcceptedSpecVersionID)
	require.NotNil(t, results[0].Evidence)
	assert.True(t, results[0].Evidence.Passed)
}

func TestRunRejectsOutOfScopeBeforeGeneration(t *testing.T) {
	e := newEnv(t, "OAuth1")
	r := e.runner(t, contract.DefaultConfig())

	results := r.Run(context.Background(), []FeatureRequest{
		e.request("OAuth1 login flow", "allow sign-in via OAuth1"),
	})

	require.Len(t, results, 1)
	assert.Equal(t, StateRejected, results[0].State)
	require.NotEmpty(t, results[0].Violations)
	assert.Equal(t, authority.CodeForbiddenCapability, results[0].Violations[0].Code)
	assert.Zero(t, e.gen.callCount(), "no generation call should be spent")
}

func TestRunRequiresVersionBinding(t *testing.T) {
	e := newEnv(t)
	r := e.runner(t, contract.DefaultConfig())

	req := e.request("Guest checkout", "to check out")
	req.SpecVersionID = ""
	results := r.Run(context.Background(), []FeatureRequest{req})

	require.Len(t, results, 1)
	assert.Equal(t, StateRejected, results[0].State)
	assert.ErrorIs(t, results[0].Err, evidence.ErrVersionBinding)
	assert.Zero(t, e.gen.callCount())
}

func TestRunRejectsUndecidedVersionBeforeGeneration(t *testing.T) {
	e := seedEnv(t)
	r := e.runner(t, contract.DefaultConfig())

	results := r.Run(context.Background(), []FeatureRequest{
		e.request("Guest checkout", "to check out without an account"),
	})

	require.Len(t, results, 1)
	assert.Equal(t, StateRejected, results[0].State)
	assert.ErrorIs(t, results[0].Err, evidence.ErrNotAccepted)
	assert.Zero(t, e.gen.callCount(), "no generation call should be spent")
}

func TestRunRejectsRejectedVersionBeforeGeneration(t *testing.T) {
	e := newEnv(t)
	_, err := gate.New(e.store).Reject(context.Background(),
		"checkout", e.version.ID, authority.PolicyHuman, "reviewer", "withdrawn")
	require.NoError(t, err)
	r := e.runner(t, contract.DefaultConfig())

	results := r.Run(context.Background(), []FeatureRequest{
		e.request("Guest checkout", "to check out without an account"),
	})

	require.Len(t, results, 1)
	assert.Equal(t, StateRejected, results[0].State)
	assert.ErrorIs(t, results[0].Err, evidence.ErrNotAccepted)
	assert.Zero(t, e.gen.callCount())
}

func TestRunIsolatesUnitFailures(t *testing.T) {
	e := newEnv(t)
	e.gen.fail = map[string]error{"Broken": errors.New("upstream unavailable")}
	r := e.runner(t, contract.DefaultConfig())

	results := r.Run(context.Background(), []FeatureRequest{
		e.request("Guest checkout", "to check out without an account"),
		e.request("Broken", "anything"),
		e.request("Saved carts", "to keep my cart between visits"),
	})

	require.Len(t, results, 3)
	assert.Equal(t, StateAccepted, results[0].State)
	assert.Equal(t, StateRejected, results[1].State)
	assert.Error(t, results[1].Err)
	assert.Equal(t, StateAccepted, results[2].State)
}

func TestRunResultsAreIndexStable(t *testing.T) {
	e := newEnv(t)
	r := e.runner(t, contract.DefaultConfig(), WithConcurrency(4))

	var reqs []FeatureRequest
	for i := 0; i < 8; i++ {
		reqs = append(reqs, e.request(fmt.Sprintf("Feature %d", i), "to do something useful"))
	}

	results := r.Run(context.Background(), reqs)
	require.Len(t, results, 8)
	for i, res := range results {
		assert.Equal(t, i, res.Index)
		require.NotNil(t, res.Story, "unit %d", i)
		assert.Equal(t, "story:"+reqs[i].Title, res.Story.ID)
	}
}

func TestRunAutoCorrectsPersona(t *testing.T) {
	e := newEnv(t)
	e.gen.persona = "administrator"
	cfg := contract.DefaultConfig()
	cfg.RequiredPersona = "customer"

	r := e.runner(t, cfg, WithPersonaCorrection(persona.NewNormalizer(nil), "customer"))

	results := r.Run(context.Background(), []FeatureRequest{
		e.request("Guest checkout", "to check out without an account"),
	})

	require.Len(t, results, 1)
	assert.Equal(t, StateAccepted, results[0].State)
	assert.Equal(t, "customer", results[0].Story.Persona)
	assert.Contains(t, results[0].Story.Description, "As a customer,")
}

// rewordRefiner drops the forbidden term from the description, which is
// exactly the silent transformation drift detection exists to catch.
type rewordRefiner struct{}

func (rewordRefiner) RefineStory(_ context.Context, story *authority.Story, _ []authority.Violation) (*authority.Story, error) {
	out := *story
	out.Title = "Modern login flow"
	out.Description = "As a customer, I want a modern login flow"
	return &out, nil
}

func TestRunDriftIsNotAPass(t *testing.T) {
	e := newEnv(t, "OAuth1")
	r := e.runner(t, contract.DefaultConfig(), WithRefiner(rewordRefiner{}, 1))

	// The request itself is in scope, but the generated draft drags in the
	// forbidden term; the refiner then silently rewrites it away.
	e.gen.suffix = " backed by OAuth1 tokens"

	results := r.Run(context.Background(), []FeatureRequest{
		e.request("Login flow", "to sign in quickly"),
	})

	require.Len(t, results, 1)
	assert.Equal(t, StateRejected, results[0].State)
	codes := make([]string, 0, len(results[0].Violations))
	for _, v := range results[0].Violations {
		codes = append(codes, v.Code)
	}
	assert.Contains(t, codes, authority.CodeScopeDrift)

	// The drift failure must survive in the persisted audit trail, not just in
	// the in-memory result.
	rows, err := e.store.ListEvidence(context.Background(), e.version.ID)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	last := rows[len(rows)-1]
	assert.False(t, last.Passed)
	persisted := make([]string, 0, len(last.Failures))
	for _, v := range last.Failures {
		persisted = append(persisted, v.Code)
	}
	assert.Contains(t, persisted, authority.CodeScopeDrift)
}
