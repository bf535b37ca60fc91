// Package authority defines the domain types of the specification authority
// subsystem: versioned spec content, compiled authority artifacts, acceptance
// records, and validation evidence.
//
// Compiler artifacts cross an untrusted boundary (the external compile call),
// so their types are decoded and shape-validated exactly once, at that
// boundary, and treated as structured values everywhere else.
package authority

import "time"

// SpecStatus is the lifecycle status of a spec version.
type SpecStatus string

// Spec version lifecycle states.
const (
	SpecStatusDraft      SpecStatus = "draft"
	SpecStatusApproved   SpecStatus = "approved"
	SpecStatusSuperseded SpecStatus = "superseded"
)

// SpecVersion is one immutable revision of a product's specification.
// Content is frozen once the version is approved.
type SpecVersion struct {
	ID          string     `json:"id"`
	Product     string     `json:"product"`
	Content     string     `json:"content"`
	ContentHash string     `json:"content_hash"`
	Status      SpecStatus `json:"status"`
	Approver    string     `json:"approver,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Approved reports whether this version has been approved.
func (v *SpecVersion) Approved() bool {
	return v.Status == SpecStatusApproved
}

// CompiledAuthority is the cached compile result for one approved spec
// version. Only Success artifacts are ever cached; a Failure envelope is
// returned to the caller and never persisted.
type CompiledAuthority struct {
	ID              string          `json:"id"`
	SpecVersionID   string          `json:"spec_version_id"`
	Product         string          `json:"product"`
	CompilerVersion string          `json:"compiler_version"`
	PromptHash      string          `json:"prompt_hash"`
	CompiledAt      time.Time       `json:"compiled_at"`
	Artifact        SuccessArtifact `json:"artifact"`
}

// AcceptanceStatus is the outcome of an acceptance decision.
type AcceptanceStatus string

// Acceptance decision outcomes.
const (
	AcceptanceAccepted AcceptanceStatus = "accepted"
	AcceptanceRejected AcceptanceStatus = "rejected"
)

// AcceptancePolicy identifies how an acceptance decision was made.
type AcceptancePolicy string

// Acceptance decision policies.
const (
	PolicyAuto  AcceptancePolicy = "auto"
	PolicyHuman AcceptancePolicy = "human"
)

// AcceptanceRecord is one row of the append-only acceptance ledger. Rows are
// never mutated or deleted; the effective status of a version is the latest
// row by decision time.
type AcceptanceRecord struct {
	ID            string           `json:"id"`
	Product       string           `json:"product"`
	SpecVersionID string           `json:"spec_version_id"`
	Status        AcceptanceStatus `json:"status"`
	Policy        AcceptancePolicy `json:"policy"`
	DecidedBy     string           `json:"decided_by"`
	Rationale     string           `json:"rationale"`

	// Pinned at decision time so the decision is auditable even after
	// recompilation under force.
	CompilerVersion string `json:"compiler_version"`
	PromptHash      string `json:"prompt_hash"`
	SpecHash        string `json:"spec_hash"`

	DecidedAt time.Time `json:"decided_at"`
}

// AuthorityStatus summarizes the compile state of a product's authority.
type AuthorityStatus string

// Authority status values, per product.
const (
	StatusNotCompiled   AuthorityStatus = "NOT_COMPILED"
	StatusPendingReview AuthorityStatus = "PENDING_REVIEW"
	StatusCurrent       AuthorityStatus = "CURRENT"
	StatusStale         AuthorityStatus = "STALE"
)

// Violation is a structured rule failure produced by a deterministic checker.
type Violation struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	InvariantID string `json:"invariant_id,omitempty"`
	Field       string `json:"field,omitempty"`
}

// Violation codes shared across checkers.
const (
	CodeStoryPointsForbidden       = "STORY_POINTS_FORBIDDEN"
	CodePointsOutOfRange           = "POINTS_OUT_OF_RANGE"
	CodePersonaFormatInvalid       = "PERSONA_FORMAT_INVALID"
	CodePersonaMismatch            = "PERSONA_MISMATCH"
	CodeTimeFrameMismatch          = "TIME_FRAME_MISMATCH"
	CodeValidatorStateInconsistent = "VALIDATOR_STATE_INCONSISTENT"
	CodeForbiddenCapability        = "FORBIDDEN_CAPABILITY"
	CodeRequiredFieldMissing       = "REQUIRED_FIELD_MISSING"
	CodeMaxValueExceeded           = "MAX_VALUE_EXCEEDED"
	CodeScopeDrift                 = "SCOPE_DRIFT"
)

// ValidationEvidence is the always-persisted audit record of one validation
// attempt, pass or fail.
type ValidationEvidence struct {
	ID                string      `json:"id"`
	SpecVersionID     string      `json:"spec_version_id"`
	InputHash         string      `json:"input_hash"`
	ValidatorVersion  string      `json:"validator_version"`
	RulesChecked      []string    `json:"rules_checked"`
	InvariantsChecked []string    `json:"invariants_checked"`
	Failures          []Violation `json:"failures"`
	Warnings          []string    `json:"warnings"`
	Passed            bool        `json:"passed"`
	CreatedAt         time.Time   `json:"created_at"`
}

// SelfReport carries the upstream generator's self-assessed validation state.
// It is advisory only: the contract enforcer's deterministic result always
// overrides it.
type SelfReport struct {
	ValidatorPassed       bool     `json:"validator_passed"`
	CompliancePassed      bool     `json:"compliance_passed"`
	Valid                 bool     `json:"valid"`
	Score                 float64  `json:"score,omitempty"`
	UnresolvedSuggestions []string `json:"unresolved_suggestions,omitempty"`
	CriticalGaps          []string `json:"critical_gaps,omitempty"`
}

// Story is a candidate generated artifact gated by the authority.
type Story struct {
	ID                    string            `json:"id"`
	Product               string            `json:"product"`
	Title                 string            `json:"title"`
	Description           string            `json:"description"`
	AcceptanceCriteria    []string          `json:"acceptance_criteria"`
	Points                *int              `json:"points,omitempty"`
	Persona               string            `json:"persona,omitempty"`
	TimeFrame             string            `json:"time_frame,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	SelfReported          SelfReport        `json:"self_reported"`
	AcceptedSpecVersionID string            `json:"accepted_spec_version_id,omitempty"`
}

// Text returns the story's user-visible text fields joined for scanning.
func (s *Story) Text() string {
	parts := make([]string, 0, 2+len(s.AcceptanceCriteria))
	parts = append(parts, s.Title, s.Description)
	parts = append(parts, s.AcceptanceCriteria...)
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n"
		}
		out += p
	}
	return out
}
