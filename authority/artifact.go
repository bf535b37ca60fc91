package authority

import (
	"encoding/json"
	"fmt"
)

// SourceMapEntry ties an invariant back to the spec excerpt it was extracted
// from. Every invariant in a Success artifact must be covered by at least one
// entry, or the compilation is rejected.
type SourceMapEntry struct {
	InvariantID string `json:"invariant_id"`
	Excerpt     string `json:"excerpt"`
	Location    string `json:"location,omitempty"`
}

// SuccessArtifact is the structured output of a successful compile call.
type SuccessArtifact struct {
	ScopeThemes          []string         `json:"scope_themes"`
	Invariants           []Invariant      `json:"invariants"`
	EligibleFeatureRules []string         `json:"eligible_feature_rules"`
	Gaps                 []string         `json:"gaps"`
	Assumptions          []string         `json:"assumptions"`
	SourceMap            []SourceMapEntry `json:"source_map"`
	CompilerVersion      string           `json:"compiler_version"`
	PromptHash           string           `json:"prompt_hash"`
}

// FailureArtifact is the structured output of a compile call that could not
// produce an authority, typically because the spec has blocking gaps.
type FailureArtifact struct {
	Error        string   `json:"error"`
	Reason       string   `json:"reason"`
	BlockingGaps []string `json:"blocking_gaps,omitempty"`
}

// Artifact is the Success/Failure tagged union produced by the compile
// boundary. Exactly one branch is non-nil after DecodeArtifact.
type Artifact struct {
	Success *SuccessArtifact
	Failure *FailureArtifact
}

// IsSuccess reports whether the artifact is the Success branch.
func (a *Artifact) IsSuccess() bool {
	return a.Success != nil
}

// artifactProbe sniffs the envelope discriminator before full decoding.
type artifactProbe struct {
	Error      string          `json:"error"`
	Invariants json.RawMessage `json:"invariants"`
	SourceMap  json.RawMessage `json:"source_map"`
}

// DecodeArtifact parses raw compiler output into the tagged union, validating
// the shape once at the boundary. Raw output is never trusted beyond this
// point: callers still re-derive all identifiers and hashes.
func DecodeArtifact(raw []byte) (*Artifact, error) {
	var probe artifactProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode compiler output: %w", err)
	}

	if probe.Error != "" {
		var failure FailureArtifact
		if err := json.Unmarshal(raw, &failure); err != nil {
			return nil, fmt.Errorf("decode failure envelope: %w", err)
		}
		return &Artifact{Failure: &failure}, nil
	}

	if probe.Invariants == nil || probe.SourceMap == nil {
		return nil, fmt.Errorf("compiler output is neither a success nor a failure envelope")
	}

	var success SuccessArtifact
	if err := json.Unmarshal(raw, &success); err != nil {
		return nil, fmt.Errorf("decode success envelope: %w", err)
	}

	for i, entry := range success.SourceMap {
		if entry.Excerpt == "" {
			return nil, fmt.Errorf("source_map[%d]: empty excerpt", i)
		}
	}

	return &Artifact{Success: &success}, nil
}
