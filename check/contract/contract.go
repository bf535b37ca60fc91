// Package contract is the final deterministic veto over candidate stories.
// Independent rule evaluators each yield at most one structured violation;
// the enforced result unconditionally overrides any upstream self-reported
// validity.
package contract

import (
	"fmt"
	"strings"

	"github.com/c360studio/specauthority/authority"
	"github.com/c360studio/specauthority/check/persona"
)

// Config holds the enforcement toggles.
type Config struct {
	// PointsEnabled permits point estimates. When false any estimate is a
	// violation and the field is stripped from the sanitized copy.
	PointsEnabled bool `json:"points_enabled" yaml:"points_enabled"`

	// PointsMin and PointsMax bound estimates when enabled.
	PointsMin int `json:"points_min" yaml:"points_min"`
	PointsMax int `json:"points_max" yaml:"points_max"`

	// RequiredPersona, when set, must equal the story's persona after
	// normalization.
	RequiredPersona string `json:"required_persona" yaml:"required_persona"`

	// AllowedTimeFrame, when set, must equal the story's declared time frame.
	AllowedTimeFrame string `json:"allowed_time_frame" yaml:"allowed_time_frame"`
}

// DefaultConfig returns the standard enforcement configuration.
func DefaultConfig() Config {
	return Config{
		PointsEnabled: true,
		PointsMin:     1,
		PointsMax:     8,
	}
}

// Result is the enforcement outcome for one story.
type Result struct {
	// IsValid is true when no rule produced a violation.
	IsValid bool `json:"is_valid"`

	Violations []authority.Violation `json:"violations,omitempty"`

	// RulesChecked names every rule that ran, violated or not.
	RulesChecked []string `json:"rules_checked"`

	// Sanitized is a copy of the story with forbidden fields stripped. It is
	// produced regardless of validity.
	Sanitized authority.Story `json:"sanitized"`
}

// Enforcer applies the contract rules.
type Enforcer struct {
	cfg      Config
	personas *persona.Normalizer
}

// New creates an Enforcer. A nil normalizer gets the default synonym table.
func New(cfg Config, personas *persona.Normalizer) *Enforcer {
	if personas == nil {
		personas = persona.NewNormalizer(nil)
	}
	return &Enforcer{cfg: cfg, personas: personas}
}

// RequiredPersona exposes the configured persona so the validator chain can
// run the clause-level persona checks against the same requirement.
func (e *Enforcer) RequiredPersona() string {
	return e.cfg.RequiredPersona
}

// Enforce runs every rule against the story. It is a pure function of the
// story and the configuration; the store and external calls are never
// consulted.
func (e *Enforcer) Enforce(story *authority.Story) *Result {
	res := &Result{Sanitized: e.sanitize(story)}

	rules := []struct {
		name  string
		check func(*authority.Story) *authority.Violation
	}{
		{"points", e.checkPoints},
		{"persona", e.checkPersona},
		{"time_frame", e.checkTimeFrame},
		{"validator_state", e.checkValidatorState},
	}

	for _, r := range rules {
		res.RulesChecked = append(res.RulesChecked, r.name)
		if v := r.check(story); v != nil {
			res.Violations = append(res.Violations, *v)
		}
	}

	res.IsValid = len(res.Violations) == 0
	return res
}

func (e *Enforcer) checkPoints(story *authority.Story) *authority.Violation {
	if story.Points == nil {
		return nil
	}
	if !e.cfg.PointsEnabled {
		return &authority.Violation{
			Code:    authority.CodeStoryPointsForbidden,
			Message: "point estimates are disabled for this product",
			Field:   "points",
		}
	}
	if *story.Points < e.cfg.PointsMin || *story.Points > e.cfg.PointsMax {
		return &authority.Violation{
			Code: authority.CodePointsOutOfRange,
			Message: fmt.Sprintf("points %d outside allowed range [%d, %d]",
				*story.Points, e.cfg.PointsMin, e.cfg.PointsMax),
			Field: "points",
		}
	}
	return nil
}

func (e *Enforcer) checkPersona(story *authority.Story) *authority.Violation {
	if e.cfg.RequiredPersona == "" {
		return nil
	}
	if !e.personas.Equal(story.Persona, e.cfg.RequiredPersona) {
		return &authority.Violation{
			Code: authority.CodePersonaMismatch,
			Message: fmt.Sprintf("story persona %q does not match required persona %q",
				story.Persona, e.cfg.RequiredPersona),
			Field: "persona",
		}
	}
	return nil
}

func (e *Enforcer) checkTimeFrame(story *authority.Story) *authority.Violation {
	if e.cfg.AllowedTimeFrame == "" {
		return nil
	}
	declared := strings.TrimSpace(strings.ToLower(story.TimeFrame))
	allowed := strings.TrimSpace(strings.ToLower(e.cfg.AllowedTimeFrame))
	if declared != allowed {
		return &authority.Violation{
			Code: authority.CodeTimeFrameMismatch,
			Message: fmt.Sprintf("declared time frame %q does not match allowed slice %q",
				story.TimeFrame, e.cfg.AllowedTimeFrame),
			Field: "time_frame",
		}
	}
	return nil
}

// checkValidatorState rejects internally inconsistent self-reports: an
// upstream validator pass alongside a compliance failure, or a "valid" claim
// alongside unresolved suggestions or critical gaps.
func (e *Enforcer) checkValidatorState(story *authority.Story) *authority.Violation {
	sr := story.SelfReported
	switch {
	case sr.ValidatorPassed && !sr.CompliancePassed:
		return &authority.Violation{
			Code:    authority.CodeValidatorStateInconsistent,
			Message: "self-report claims validator pass but compliance failure",
		}
	case sr.Valid && (len(sr.UnresolvedSuggestions) > 0 || len(sr.CriticalGaps) > 0):
		return &authority.Violation{
			Code: authority.CodeValidatorStateInconsistent,
			Message: fmt.Sprintf("self-report claims valid with %d unresolved suggestions and %d critical gaps",
				len(sr.UnresolvedSuggestions), len(sr.CriticalGaps)),
		}
	}
	return nil
}

// sanitize deep-copies the story and strips forbidden fields.
func (e *Enforcer) sanitize(story *authority.Story) authority.Story {
	out := *story
	if story.Points != nil {
		p := *story.Points
		out.Points = &p
	}
	out.AcceptanceCriteria = append([]string(nil), story.AcceptanceCriteria...)
	if story.Metadata != nil {
		out.Metadata = make(map[string]string, len(story.Metadata))
		for k, v := range story.Metadata {
			out.Metadata[k] = v
		}
	}
	if !e.cfg.PointsEnabled {
		out.Points = nil
	}
	return out
}

// Merge reconciles the upstream self-report with the enforced result. The
// enforcer always wins; a disagreeing self-report only produces warnings for
// the evidence record.
func Merge(self authority.SelfReport, enforced *Result) (bool, []string) {
	var warnings []string
	if self.Valid && !enforced.IsValid {
		warnings = append(warnings,
			"upstream self-report claims valid; overridden by contract enforcement")
	}
	if !self.Valid && enforced.IsValid {
		warnings = append(warnings,
			"upstream self-report claims invalid; contract enforcement found no violations")
	}
	return enforced.IsValid, warnings
}
