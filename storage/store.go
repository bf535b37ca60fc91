package storage

import (
	"context"

	"github.com/c360studio/specauthority/authority"
)

// Store is the transactional key/record store behind the registry, the
// compiled-authority cache, the acceptance ledger, and the evidence log.
// The KV implementation is the production store; the in-memory implementation
// serves as a test double.
type Store interface {
	// CreateSpec stores a new spec version. The version's ID must be set.
	// Returns ErrAlreadyExists if a version with that ID exists.
	CreateSpec(ctx context.Context, v *authority.SpecVersion) error

	// PutSpec overwrites an existing spec version record.
	PutSpec(ctx context.Context, v *authority.SpecVersion) error

	// GetSpec retrieves a spec version by ID.
	GetSpec(ctx context.Context, id string) (*authority.SpecVersion, error)

	// ListSpecsByProduct returns all spec versions for a product.
	ListSpecsByProduct(ctx context.Context, product string) ([]*authority.SpecVersion, error)

	// CreateAuthority stores a compiled authority keyed by its spec version
	// ID. Returns ErrAlreadyExists when one is already cached; the first
	// writer wins.
	CreateAuthority(ctx context.Context, a *authority.CompiledAuthority) error

	// PutAuthority overwrites the compiled authority for a spec version.
	// Only the forced recompilation path uses this.
	PutAuthority(ctx context.Context, a *authority.CompiledAuthority) error

	// GetAuthority retrieves the compiled authority for a spec version.
	GetAuthority(ctx context.Context, specVersionID string) (*authority.CompiledAuthority, error)

	// AppendAcceptance appends a row to the acceptance ledger. Rows are
	// never updated or deleted.
	AppendAcceptance(ctx context.Context, r *authority.AcceptanceRecord) error

	// ListAcceptances returns all acceptance rows for a spec version.
	ListAcceptances(ctx context.Context, specVersionID string) ([]*authority.AcceptanceRecord, error)

	// AppendEvidence appends a validation evidence record.
	AppendEvidence(ctx context.Context, e *authority.ValidationEvidence) error

	// ListEvidence returns all evidence records for a spec version.
	ListEvidence(ctx context.Context, specVersionID string) ([]*authority.ValidationEvidence, error)
}
