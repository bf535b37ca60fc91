package gate

import (
	"context"
	"errors"
	"sort"

	"github.com/c360studio/specauthority/authority"
	"github.com/c360studio/specauthority/storage"
)

// ProductStatus is the resolved authority state of a product, with the
// version ids a caller needs to act on it.
type ProductStatus struct {
	Product string                    `json:"product"`
	Status  authority.AuthorityStatus `json:"status"`

	// LatestVersionID is the newest version regardless of lifecycle state.
	LatestVersionID string `json:"latest_version_id,omitempty"`

	// CompiledVersionID is the newest once-approved version that has a
	// compiled authority. On STALE it names the version still serving.
	CompiledVersionID string `json:"compiled_version_id,omitempty"`
}

// Resolve computes the authority status of a product:
//
//	NOT_COMPILED    no version, or no once-approved version has an authority
//	PENDING_REVIEW  the newest version is an uncompilable draft
//	CURRENT         the newest approved version has a compiled authority
//	STALE           an older version has an authority but the newest approved
//	                version does not
//
// Superseded versions were approved once and may still hold the serving
// authority, so they count when deciding STALE versus NOT_COMPILED.
func (g *Gate) Resolve(ctx context.Context, product string) (*ProductStatus, error) {
	versions, err := g.store.ListSpecsByProduct(ctx, product)
	if err != nil {
		return nil, err
	}
	status := &ProductStatus{Product: product, Status: authority.StatusNotCompiled}
	if len(versions) == 0 {
		return status, nil
	}

	sort.Slice(versions, func(i, j int) bool {
		if versions[i].CreatedAt.Equal(versions[j].CreatedAt) {
			return versions[i].ID < versions[j].ID
		}
		return versions[i].CreatedAt.Before(versions[j].CreatedAt)
	})
	latest := versions[len(versions)-1]
	status.LatestVersionID = latest.ID

	if latest.Status == authority.SpecStatusDraft {
		status.Status = authority.StatusPendingReview
		return status, nil
	}

	// Walk once-approved versions newest first; the first one with a cached
	// authority is the serving authority.
	for i := len(versions) - 1; i >= 0; i-- {
		v := versions[i]
		if v.ApprovedAt == nil {
			continue
		}
		if _, err := g.store.GetAuthority(ctx, v.ID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		status.CompiledVersionID = v.ID
		break
	}

	switch {
	case status.CompiledVersionID == "":
		status.Status = authority.StatusNotCompiled
	case status.CompiledVersionID == newestApprovedID(versions):
		status.Status = authority.StatusCurrent
	default:
		status.Status = authority.StatusStale
	}
	return status, nil
}

// newestApprovedID returns the id of the newest currently-approved version,
// or "" when none is approved. versions must be sorted oldest first.
func newestApprovedID(versions []*authority.SpecVersion) string {
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Approved() {
			return versions[i].ID
		}
	}
	return ""
}
