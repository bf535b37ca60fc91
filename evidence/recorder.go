// Package evidence runs the full validator chain over a candidate story and
// persists an audit record for every attempt, pass or fail. A story is never
// stamped as accepted without a passing record, and validation never runs
// against a version the acceptance gate has not cleared.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/c360studio/specauthority/authority"
	"github.com/c360studio/specauthority/canonical"
	"github.com/c360studio/specauthority/check/alignment"
	"github.com/c360studio/specauthority/check/contract"
	"github.com/c360studio/specauthority/check/persona"
	"github.com/c360studio/specauthority/gate"
	"github.com/c360studio/specauthority/metrics"
	"github.com/c360studio/specauthority/storage"
)

// Evidence errors. All of them fail the call before any evidence work.
var (
	// ErrVersionBinding is returned when the spec version binding is missing
	// or does not resolve. The binding is never defaulted to "latest".
	ErrVersionBinding = errors.New("spec version binding is missing or invalid")

	// ErrProductMismatch is returned when the story belongs to a different
	// product than the spec version.
	ErrProductMismatch = errors.New("story product does not match spec version product")

	// ErrNotAccepted is returned when the version's compiled authority has no
	// accepted gate decision.
	ErrNotAccepted = errors.New("spec version has no accepted gate decision")
)

// Recorder validates stories against a compiled authority and records
// evidence.
type Recorder struct {
	store    storage.Store
	gate     *gate.Gate
	checker  *alignment.Checker
	personas *persona.Normalizer
	enforcer *contract.Enforcer
	version  string
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = l
	}
}

// withClock overrides the time source in tests.
func withClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// New creates a Recorder. version identifies the validator build and is
// stamped on every evidence record.
func New(store storage.Store, g *gate.Gate, checker *alignment.Checker, enforcer *contract.Enforcer, version string, opts ...Option) *Recorder {
	r := &Recorder{
		store:    store,
		gate:     g,
		checker:  checker,
		personas: persona.NewNormalizer(nil),
		enforcer: enforcer,
		version:  version,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record validates the story against the compiled authority of the given spec
// version. Preconditions fail fast before any evidence work: the binding must
// be present and resolve, the version must belong to the story's product,
// must be compiled, and must be accepted. Past those, evidence is always
// persisted; the story's accepted version stamp is set only on pass.
func (r *Recorder) Record(ctx context.Context, story *authority.Story, versionID string) (*authority.ValidationEvidence, error) {
	return r.record(ctx, story, versionID, "")
}

// RecordDraft validates like Record and additionally compares the final text
// against the first draft for scope drift. Drift failures land in the
// persisted evidence row, so the audit trail and the rejection agree.
func (r *Recorder) RecordDraft(ctx context.Context, story *authority.Story, versionID, draftText string) (*authority.ValidationEvidence, error) {
	return r.record(ctx, story, versionID, draftText)
}

func (r *Recorder) record(ctx context.Context, story *authority.Story, versionID, draftText string) (*authority.ValidationEvidence, error) {
	if versionID == "" {
		return nil, fmt.Errorf("validate story %s: %w", story.ID, ErrVersionBinding)
	}
	version, err := r.store.GetSpec(ctx, versionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("validate story %s against %s: %w", story.ID, versionID, ErrVersionBinding)
		}
		return nil, err
	}
	if version.Product != story.Product {
		return nil, fmt.Errorf("story product %q vs spec product %q: %w",
			story.Product, version.Product, ErrProductMismatch)
	}
	compiled, err := r.store.GetAuthority(ctx, versionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("validate against %s: %w", versionID, gate.ErrNotCompiled)
		}
		return nil, err
	}
	accepted, err := r.gate.Accepted(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if !accepted {
		return nil, fmt.Errorf("validate against %s: %w", versionID, ErrNotAccepted)
	}

	record := &authority.ValidationEvidence{
		ID:               storage.NewEntityID(storage.EntityTypeEvidence).String(),
		SpecVersionID:    versionID,
		InputHash:        canonical.InputHash(story.Title, story.Description, story.AcceptanceCriteria),
		ValidatorVersion: r.version,
		CreatedAt:        r.now(),
	}

	text := story.Text()

	terms := alignment.Terms(compiled)
	record.RulesChecked = append(record.RulesChecked, "alignment")
	record.Failures = append(record.Failures, r.checker.Check(ctx, text, terms)...)
	for _, t := range terms {
		record.InvariantsChecked = append(record.InvariantsChecked, t.InvariantID)
	}

	if draftText != "" {
		record.RulesChecked = append(record.RulesChecked, "drift")
		record.Failures = append(record.Failures, r.checker.DetectDrift(ctx, draftText, text, terms)...)
	}

	if required := r.enforcer.RequiredPersona(); required != "" {
		record.RulesChecked = append(record.RulesChecked, "persona_clause")
		if v := r.personas.Validate(story.Description, required); v != nil {
			record.Failures = append(record.Failures, *v)
		}
	}

	record.RulesChecked = append(record.RulesChecked, "invariants")
	failures, checked := checkFieldInvariants(story, text, compiled.Artifact.Invariants)
	record.Failures = append(record.Failures, failures...)
	record.InvariantsChecked = append(record.InvariantsChecked, checked...)

	enforced := r.enforcer.Enforce(story)
	record.RulesChecked = append(record.RulesChecked, enforced.RulesChecked...)
	record.Failures = append(record.Failures, enforced.Violations...)

	passed, warnings := contract.Merge(story.SelfReported, enforced)
	record.Warnings = warnings
	record.Passed = passed && len(record.Failures) == 0

	if err := r.store.AppendEvidence(ctx, record); err != nil {
		return nil, fmt.Errorf("persist evidence: %w", err)
	}

	outcome := "failed"
	if record.Passed {
		outcome = "passed"
		story.AcceptedSpecVersionID = versionID
	}
	metrics.ValidationsTotal.WithLabelValues(outcome).Inc()
	r.logger.Info("Recorded validation evidence",
		slog.String("story", story.ID),
		slog.String("version", versionID),
		slog.Bool("passed", record.Passed),
		slog.Int("failures", len(record.Failures)))

	return record, nil
}

// checkFieldInvariants evaluates REQUIRED_FIELD and MAX_VALUE invariants
// against the story. Required fields must be mentioned somewhere in the
// story's text; bounded values are read from the points estimate or the
// metadata map.
func checkFieldInvariants(story *authority.Story, text string, invariants []authority.Invariant) ([]authority.Violation, []string) {
	var failures []authority.Violation
	var checked []string

	for _, inv := range invariants {
		switch inv.Type {
		case authority.InvariantRequiredField:
			if inv.RequiredField == nil {
				continue
			}
			checked = append(checked, inv.ID)
			if !mentionsField(text, inv.RequiredField.Field) {
				failures = append(failures, authority.Violation{
					Code:        authority.CodeRequiredFieldMissing,
					Message:     fmt.Sprintf("story never mentions required field %q", inv.RequiredField.Field),
					InvariantID: inv.ID,
					Field:       inv.RequiredField.Field,
				})
			}

		case authority.InvariantMaxValue:
			if inv.MaxValue == nil {
				continue
			}
			checked = append(checked, inv.ID)
			value, ok := fieldValue(story, inv.MaxValue.Field)
			if ok && value > inv.MaxValue.Limit {
				failures = append(failures, authority.Violation{
					Code: authority.CodeMaxValueExceeded,
					Message: fmt.Sprintf("field %q value %g exceeds limit %g",
						inv.MaxValue.Field, value, inv.MaxValue.Limit),
					InvariantID: inv.ID,
					Field:       inv.MaxValue.Field,
				})
			}
		}
	}
	return failures, checked
}

func mentionsField(text, field string) bool {
	return alignment.WordPattern(field).MatchString(text)
}

// fieldValue resolves a bounded numeric field: "points" reads the estimate,
// anything else reads the metadata map.
func fieldValue(story *authority.Story, field string) (float64, bool) {
	if field == "points" {
		if story.Points == nil {
			return 0, false
		}
		return float64(*story.Points), true
	}
	raw, ok := story.Metadata[field]
	if !ok {
		return 0, false
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
