// Package gate implements the acceptance gate: an append-only ledger of
// accept/reject decisions that all artifact consumption is checked against,
// plus the authority status resolver.
//
// Ledger rows are never mutated or deleted. The effective status of a spec
// version is the latest row by decision time; a later acceptance supersedes
// an earlier rejection while leaving the full history auditable.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/c360studio/specauthority/authority"
	"github.com/c360studio/specauthority/metrics"
	"github.com/c360studio/specauthority/storage"
)

// Gate errors.
var (
	// ErrNotCompiled is returned when accepting a version that has no
	// compiled authority.
	ErrNotCompiled = errors.New("spec version has no compiled authority")

	// ErrProductMismatch is returned when the named product does not own
	// the spec version.
	ErrProductMismatch = errors.New("spec version belongs to a different product")

	// ErrNoDecision is returned when a version has no ledger rows.
	ErrNoDecision = errors.New("no acceptance decision recorded")
)

// Gate manages the acceptance ledger for compiled authorities.
type Gate struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = l
	}
}

// withClock overrides the time source in tests.
func withClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// New creates a Gate backed by the given store.
func New(store storage.Store, opts ...Option) *Gate {
	g := &Gate{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Accept records an acceptance decision for a compiled spec version and
// returns the ledger row id. A repeat call with identical policy, decider,
// and rationale returns the existing row id; any differing call appends a new
// row. The row snapshots the authority's compiler version and prompt hash and
// the spec's content hash at decision time.
func (g *Gate) Accept(ctx context.Context, product, versionID string, policy authority.AcceptancePolicy, decidedBy, rationale string) (string, error) {
	return g.decide(ctx, product, versionID, authority.AcceptanceAccepted, policy, decidedBy, rationale)
}

// Reject records a rejection decision for a compiled spec version.
func (g *Gate) Reject(ctx context.Context, product, versionID string, policy authority.AcceptancePolicy, decidedBy, rationale string) (string, error) {
	return g.decide(ctx, product, versionID, authority.AcceptanceRejected, policy, decidedBy, rationale)
}

func (g *Gate) decide(ctx context.Context, product, versionID string, status authority.AcceptanceStatus, policy authority.AcceptancePolicy, decidedBy, rationale string) (string, error) {
	version, err := g.store.GetSpec(ctx, versionID)
	if err != nil {
		return "", err
	}
	if version.Product != product {
		return "", fmt.Errorf("version %s is owned by %q, not %q: %w",
			versionID, version.Product, product, ErrProductMismatch)
	}

	compiled, err := g.store.GetAuthority(ctx, versionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("accept %s: %w", versionID, ErrNotCompiled)
		}
		return "", err
	}

	latest, err := g.latestRecord(ctx, versionID)
	if err != nil && !errors.Is(err, ErrNoDecision) {
		return "", err
	}
	if latest != nil &&
		latest.Status == status &&
		latest.Policy == policy &&
		latest.DecidedBy == decidedBy &&
		latest.Rationale == rationale {
		return latest.ID, nil
	}

	record := &authority.AcceptanceRecord{
		ID:              storage.NewEntityID(storage.EntityTypeAcceptance).String(),
		Product:         product,
		SpecVersionID:   versionID,
		Status:          status,
		Policy:          policy,
		DecidedBy:       decidedBy,
		Rationale:       rationale,
		CompilerVersion: compiled.CompilerVersion,
		PromptHash:      compiled.PromptHash,
		SpecHash:        version.ContentHash,
		DecidedAt:       g.now(),
	}
	if err := g.store.AppendAcceptance(ctx, record); err != nil {
		return "", fmt.Errorf("append acceptance: %w", err)
	}

	g.logger.Info("Recorded acceptance decision",
		slog.String("product", product),
		slog.String("version", versionID),
		slog.String("status", string(status)),
		slog.String("policy", string(policy)),
		slog.String("decided_by", decidedBy))
	metrics.AcceptancesTotal.WithLabelValues(string(status)).Inc()

	return record.ID, nil
}

// Status returns the effective decision for a spec version: the latest ledger
// row by decision time. ErrNoDecision when the ledger has no rows for it.
func (g *Gate) Status(ctx context.Context, versionID string) (*authority.AcceptanceRecord, error) {
	return g.latestRecord(ctx, versionID)
}

// Accepted reports whether the version's effective decision is acceptance.
func (g *Gate) Accepted(ctx context.Context, versionID string) (bool, error) {
	latest, err := g.latestRecord(ctx, versionID)
	if err != nil {
		if errors.Is(err, ErrNoDecision) {
			return false, nil
		}
		return false, err
	}
	return latest.Status == authority.AcceptanceAccepted, nil
}

// History returns all ledger rows for a version, oldest first.
func (g *Gate) History(ctx context.Context, versionID string) ([]*authority.AcceptanceRecord, error) {
	rows, err := g.store.ListAcceptances(ctx, versionID)
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].DecidedAt.Equal(rows[j].DecidedAt) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].DecidedAt.Before(rows[j].DecidedAt)
	})
	return rows, nil
}

func (g *Gate) latestRecord(ctx context.Context, versionID string) (*authority.AcceptanceRecord, error) {
	rows, err := g.History(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoDecision
	}
	return rows[len(rows)-1], nil
}
