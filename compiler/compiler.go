// Package compiler wraps the untrusted external compile step behind a
// deterministic contract. The external call produces raw text; everything
// consumable — prompt hash, invariant ids, source-map ids — is re-derived by
// the host during normalization, and a compilation that cannot be fully
// normalized is rejected whole. Partial trust is never granted.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/specauthority/authority"
	"github.com/c360studio/specauthority/llm"
	"github.com/c360studio/specauthority/metrics"
	"github.com/c360studio/specauthority/storage"
)

// Compiler errors.
var (
	// ErrNotApproved is returned when compiling a version that is not
	// approved.
	ErrNotApproved = errors.New("spec version is not approved")

	// ErrSourceMapMismatch is returned when invariants and source-map
	// entries cannot be fully reconciled. The whole compilation is rejected;
	// nothing is persisted.
	ErrSourceMapMismatch = errors.New("source map and invariants cannot be reconciled")

	// ErrNoArtifact is returned when the external output contains no
	// parseable artifact envelope.
	ErrNoArtifact = errors.New("compiler output contains no artifact")
)

// Caller is the external compile boundary. It receives the pinned instruction
// text and the spec content and returns raw text that should contain an
// artifact envelope. Its output is never trusted as-is.
type Caller interface {
	CompileSpec(ctx context.Context, instruction, specContent string) (string, error)
}

// LLMCaller implements Caller on top of the shared LLM client.
type LLMCaller struct {
	Client *llm.Client
}

// CompileSpec sends the pinned instruction and spec content to the LLM.
func (c *LLMCaller) CompileSpec(ctx context.Context, instruction, specContent string) (string, error) {
	resp, err := c.Client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: instruction},
			{Role: "user", Content: specContent},
		},
		Temperature: ptr(0.0),
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func ptr[T any](v T) *T { return &v }

// Compiler compiles approved spec versions into cached authorities.
type Compiler struct {
	store       storage.Store
	caller      Caller
	instruction string
	version     string
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compiler) {
		c.logger = l
	}
}

// withClock overrides the time source in tests.
func withClock(now func() time.Time) Option {
	return func(c *Compiler) {
		c.now = now
	}
}

// New creates a Compiler. instruction is the exact pinned instruction text
// sent to the external step; version identifies this compiler build and is
// stamped on every authority it produces.
func New(store storage.Store, caller Caller, instruction, version string, opts ...Option) *Compiler {
	c := &Compiler{
		store:       store,
		caller:      caller,
		instruction: instruction,
		version:     version,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result reports the outcome of a compile call.
type Result struct {
	// AuthorityID is set when a Success authority exists (fresh or cached).
	AuthorityID string `json:"authority_id,omitempty"`

	// Cached is true when an existing artifact was returned without an
	// external call, or when a concurrent compile won the write race.
	Cached bool `json:"cached"`

	ScopeThemesCount int `json:"scope_themes_count"`
	InvariantsCount  int `json:"invariants_count"`

	// Failure is set when the external step returned a Failure envelope.
	// No authority is cached in that case.
	Failure *authority.FailureArtifact `json:"failure,omitempty"`
}

// Compile compiles the given spec version. Without force, an existing cached
// authority is returned as-is and no external call is made. With force, the
// external step runs and the last writer overwrites the cache.
func (c *Compiler) Compile(ctx context.Context, versionID string, force bool) (*Result, error) {
	version, err := c.store.GetSpec(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if !version.Approved() {
		return nil, fmt.Errorf("compile %s (status %s): %w", versionID, version.Status, ErrNotApproved)
	}

	if !force {
		existing, err := c.store.GetAuthority(ctx, versionID)
		if err == nil {
			metrics.CompileTotal.WithLabelValues("cache_hit").Inc()
			return resultFrom(existing, true), nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	raw, err := c.caller.CompileSpec(ctx, c.instruction, version.Content)
	if err != nil {
		return nil, fmt.Errorf("external compile call: %w", err)
	}

	extracted := llm.ExtractJSON(raw)
	if extracted == "" {
		metrics.CompileTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("compile %s: %w", versionID, ErrNoArtifact)
	}

	artifact, err := authority.DecodeArtifact([]byte(extracted))
	if err != nil {
		metrics.CompileTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("compile %s: %w", versionID, err)
	}

	if !artifact.IsSuccess() {
		c.logger.Warn("Compilation returned failure envelope",
			slog.String("version", versionID),
			slog.String("reason", artifact.Failure.Reason))
		metrics.CompileTotal.WithLabelValues("failure").Inc()
		return &Result{Failure: artifact.Failure}, nil
	}

	success := artifact.Success
	if err := Normalize(success, c.instruction); err != nil {
		metrics.CompileTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("compile %s: %w", versionID, err)
	}
	success.CompilerVersion = c.version

	compiled := &authority.CompiledAuthority{
		ID:              storage.NewEntityID(storage.EntityTypeAuthority).String(),
		SpecVersionID:   version.ID,
		Product:         version.Product,
		CompilerVersion: c.version,
		PromptHash:      success.PromptHash,
		CompiledAt:      c.now(),
		Artifact:        *success,
	}

	if force {
		if err := c.store.PutAuthority(ctx, compiled); err != nil {
			return nil, fmt.Errorf("store authority: %w", err)
		}
	} else if err := c.store.CreateAuthority(ctx, compiled); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			// Someone else compiled it first. Compile is idempotent, so the
			// race is benign: hand back the first writer's artifact.
			winner, getErr := c.store.GetAuthority(ctx, versionID)
			if getErr != nil {
				return nil, getErr
			}
			metrics.CompileTotal.WithLabelValues("cache_hit").Inc()
			return resultFrom(winner, true), nil
		}
		return nil, fmt.Errorf("store authority: %w", err)
	}

	c.logger.Info("Compiled spec version",
		slog.String("version", versionID),
		slog.String("authority", compiled.ID),
		slog.Int("invariants", len(success.Invariants)),
		slog.Bool("forced", force))
	metrics.CompileTotal.WithLabelValues("compiled").Inc()

	return resultFrom(compiled, false), nil
}

func resultFrom(a *authority.CompiledAuthority, cached bool) *Result {
	return &Result{
		AuthorityID:      a.ID,
		Cached:           cached,
		ScopeThemesCount: len(a.Artifact.ScopeThemes),
		InvariantsCount:  len(a.Artifact.Invariants),
	}
}
