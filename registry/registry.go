// Package registry implements the versioned, append-only spec registry.
// Registration is content-addressed and idempotent: identical canonicalized
// content for a product always resolves to the same spec version. Approval
// freezes a version's content permanently.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/specauthority/authority"
	"github.com/c360studio/specauthority/canonical"
	"github.com/c360studio/specauthority/storage"
)

// Registry errors.
var (
	// ErrNotDraft is returned when approving a version that is not a draft.
	ErrNotDraft = errors.New("spec version is not a draft")

	// ErrFrozen is returned on any mutation attempt against an approved or
	// superseded version.
	ErrFrozen = errors.New("spec version content is frozen")

	// ErrNoContent is returned when neither content nor a content ref is
	// provided, or a ref resolves to empty content.
	ErrNoContent = errors.New("no spec content provided")
)

// ContentResolver resolves a content reference (file path or URL) to the spec
// text it points at.
type ContentResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Registry manages spec versions in the store.
type Registry struct {
	store    storage.Store
	resolver ContentResolver
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithResolver sets the content-ref resolver. Without one, registration by
// ref fails.
func WithResolver(r ContentResolver) Option {
	return func(reg *Registry) {
		reg.resolver = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(reg *Registry) {
		reg.logger = l
	}
}

// withClock overrides the time source in tests.
func withClock(now func() time.Time) Option {
	return func(reg *Registry) {
		reg.now = now
	}
}

// New creates a Registry backed by the given store.
func New(store storage.Store, opts ...Option) *Registry {
	reg := &Registry{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(reg)
	}
	return reg
}

// RegisterResult reports the version a registration resolved to.
type RegisterResult struct {
	Version *authority.SpecVersion

	// Created is false when the content hashed to an existing version
	// (idempotent cache hit).
	Created bool
}

// Register resolves spec content and stores it as a draft version. When both
// inline content and a content ref are given, the ref wins. Content identical
// to an existing version of the product (after canonicalization) returns that
// version unchanged.
func (r *Registry) Register(ctx context.Context, product, content, contentRef string) (*RegisterResult, error) {
	if product == "" {
		return nil, fmt.Errorf("product is required")
	}

	if contentRef != "" {
		if r.resolver == nil {
			return nil, fmt.Errorf("content ref %q given but no resolver configured", contentRef)
		}
		resolved, err := r.resolver.Resolve(ctx, contentRef)
		if err != nil {
			return nil, fmt.Errorf("resolve content ref %q: %w", contentRef, err)
		}
		content = resolved
	}
	if canonical.Canonicalize(content) == "" {
		return nil, ErrNoContent
	}

	hash := canonical.Hash(content)

	existing, err := r.findByHash(ctx, product, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		r.logger.Debug("Spec registration cache hit",
			slog.String("product", product),
			slog.String("version", existing.ID))
		return &RegisterResult{Version: existing, Created: false}, nil
	}

	version := &authority.SpecVersion{
		ID:          storage.NewEntityID(storage.EntityTypeSpec).String(),
		Product:     product,
		Content:     content,
		ContentHash: hash,
		Status:      authority.SpecStatusDraft,
		CreatedAt:   r.now(),
	}
	if err := r.store.CreateSpec(ctx, version); err != nil {
		return nil, fmt.Errorf("store spec version: %w", err)
	}

	r.logger.Info("Registered new spec version",
		slog.String("product", product),
		slog.String("version", version.ID),
		slog.String("content_hash", hash))

	return &RegisterResult{Version: version, Created: true}, nil
}

// Approve transitions a draft version to approved and freezes its content.
// Previously approved versions of the same product become superseded.
func (r *Registry) Approve(ctx context.Context, versionID, approver, notes string) (*authority.SpecVersion, error) {
	version, err := r.store.GetSpec(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version.Status != authority.SpecStatusDraft {
		return nil, fmt.Errorf("approve %s: %w", versionID, ErrNotDraft)
	}

	// Supersede the previously approved version before promoting the new
	// one, so at most one version per product reads as approved.
	others, err := r.store.ListSpecsByProduct(ctx, version.Product)
	if err != nil {
		return nil, err
	}
	for _, other := range others {
		if other.ID == version.ID || other.Status != authority.SpecStatusApproved {
			continue
		}
		other.Status = authority.SpecStatusSuperseded
		if err := r.store.PutSpec(ctx, other); err != nil {
			return nil, fmt.Errorf("supersede %s: %w", other.ID, err)
		}
	}

	now := r.now()
	version.Status = authority.SpecStatusApproved
	version.Approver = approver
	version.Notes = notes
	version.ApprovedAt = &now
	if err := r.store.PutSpec(ctx, version); err != nil {
		return nil, fmt.Errorf("store approval: %w", err)
	}

	r.logger.Info("Approved spec version",
		slog.String("product", version.Product),
		slog.String("version", version.ID),
		slog.String("approver", approver))

	return version, nil
}

// UpdateDraft replaces the content of a draft version. Approved and
// superseded versions are immutable; any attempt fails with ErrFrozen.
func (r *Registry) UpdateDraft(ctx context.Context, versionID, content string) (*authority.SpecVersion, error) {
	version, err := r.store.GetSpec(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version.Status != authority.SpecStatusDraft {
		return nil, fmt.Errorf("update %s: %w", versionID, ErrFrozen)
	}
	if canonical.Canonicalize(content) == "" {
		return nil, ErrNoContent
	}

	version.Content = content
	version.ContentHash = canonical.Hash(content)
	if err := r.store.PutSpec(ctx, version); err != nil {
		return nil, fmt.Errorf("store draft update: %w", err)
	}
	return version, nil
}

// Get retrieves a spec version by ID.
func (r *Registry) Get(ctx context.Context, versionID string) (*authority.SpecVersion, error) {
	return r.store.GetSpec(ctx, versionID)
}

// ListByProduct returns every version of a product.
func (r *Registry) ListByProduct(ctx context.Context, product string) ([]*authority.SpecVersion, error) {
	return r.store.ListSpecsByProduct(ctx, product)
}

// Latest returns the most recently created version for a product, or
// storage.ErrNotFound when the product has no versions.
func (r *Registry) Latest(ctx context.Context, product string) (*authority.SpecVersion, error) {
	versions, err := r.store.ListSpecsByProduct(ctx, product)
	if err != nil {
		return nil, err
	}
	var latest *authority.SpecVersion
	for _, v := range versions {
		if latest == nil || v.CreatedAt.After(latest.CreatedAt) {
			latest = v
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return latest, nil
}

// LatestApproved returns the most recently approved version for a product.
// Superseded versions are still "approved" history but never returned here.
func (r *Registry) LatestApproved(ctx context.Context, product string) (*authority.SpecVersion, error) {
	versions, err := r.store.ListSpecsByProduct(ctx, product)
	if err != nil {
		return nil, err
	}
	var latest *authority.SpecVersion
	for _, v := range versions {
		if v.Status != authority.SpecStatusApproved {
			continue
		}
		if latest == nil || v.ApprovedAt.After(*latest.ApprovedAt) {
			latest = v
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return latest, nil
}

func (r *Registry) findByHash(ctx context.Context, product, hash string) (*authority.SpecVersion, error) {
	versions, err := r.store.ListSpecsByProduct(ctx, product)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.ContentHash == hash {
			return v, nil
		}
	}
	return nil, nil
}
