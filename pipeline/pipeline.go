// Package pipeline orchestrates story generation for a batch of feature
// requests. Each unit walks a fixed state machine around the external
// generation calls; the batch runs units independently under a bounded
// concurrency limit with index-stable results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/c360studio/specauthority/authority"
	"github.com/c360studio/specauthority/check/alignment"
	"github.com/c360studio/specauthority/check/persona"
	"github.com/c360studio/specauthority/evidence"
	"github.com/c360studio/specauthority/gate"
	"github.com/c360studio/specauthority/metrics"
	"github.com/c360studio/specauthority/storage"
)

// UnitState is a stage of the per-unit state machine.
type UnitState string

// Pipeline unit states.
const (
	StateResolveSpecVersion UnitState = "RESOLVE_SPEC_VERSION"
	StateAlignCheckFeature  UnitState = "ALIGN_CHECK_FEATURE"
	StateGenerateDraft      UnitState = "GENERATE_DRAFT"
	StateRefine             UnitState = "REFINE"
	StatePostValidate       UnitState = "POST_VALIDATE"
	StateAccepted           UnitState = "ACCEPTED"
	StateRejected           UnitState = "REJECTED"
)

// FeatureRequest is one unit of work: a feature to turn into a story under a
// specific spec version. SpecVersionID is a required binding; it is never
// defaulted to the latest version.
type FeatureRequest struct {
	Product       string `json:"product"`
	SpecVersionID string `json:"spec_version_id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
}

// Text joins the request's user-visible fields for alignment scanning.
func (f FeatureRequest) Text() string {
	return f.Title + "\n" + f.Description
}

// Generator produces a draft story for a feature request, guided by the
// compiled authority. External call; retry policy is the implementation's
// concern.
type Generator interface {
	GenerateStory(ctx context.Context, req FeatureRequest, compiled *authority.CompiledAuthority) (*authority.Story, error)
}

// Refiner revises a rejected draft given the violations found. Optional.
type Refiner interface {
	RefineStory(ctx context.Context, story *authority.Story, violations []authority.Violation) (*authority.Story, error)
}

// UnitResult is the terminal outcome of one unit. Results are returned in
// request order regardless of completion order.
type UnitResult struct {
	Index      int                           `json:"index"`
	State      UnitState                     `json:"state"`
	Story      *authority.Story              `json:"story,omitempty"`
	Evidence   *authority.ValidationEvidence `json:"evidence,omitempty"`
	Violations []authority.Violation         `json:"violations,omitempty"`
	Err        error                         `json:"-"`
}

// Runner executes batches of feature requests.
type Runner struct {
	store           storage.Store
	gate            *gate.Gate
	recorder        *evidence.Recorder
	checker         *alignment.Checker
	generator       Generator
	refiner         Refiner
	personas        *persona.Normalizer
	requiredPersona string
	concurrency     int64
	maxRefines      int
	logger          *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency bounds how many units run at once. The default of 1 keeps
// output deterministic and in order.
func WithConcurrency(n int64) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithRefiner enables the refine loop with the given attempt budget.
func WithRefiner(ref Refiner, maxRefines int) Option {
	return func(r *Runner) {
		r.refiner = ref
		r.maxRefines = maxRefines
	}
}

// WithPersonaCorrection enables one auto-correction pass for persona
// mismatches: only the role clause is rewritten, and the corrected draft goes
// back through the full validator chain.
func WithPersonaCorrection(n *persona.Normalizer, required string) Option {
	return func(r *Runner) {
		r.personas = n
		r.requiredPersona = required
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// NewRunner creates a Runner.
func NewRunner(store storage.Store, recorder *evidence.Recorder, checker *alignment.Checker, generator Generator, opts ...Option) *Runner {
	r := &Runner{
		store:       store,
		gate:        gate.New(store),
		recorder:    recorder,
		checker:     checker,
		generator:   generator,
		concurrency: 1,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the batch. Units are isolated: one unit's failure never aborts
// its siblings, and results land at the index of their request.
func (r *Runner) Run(ctx context.Context, reqs []FeatureRequest) []UnitResult {
	results := make([]UnitResult, len(reqs))
	sem := semaphore.NewWeighted(r.concurrency)
	var wg sync.WaitGroup

	for i, req := range reqs {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = UnitResult{Index: i, State: StateRejected, Err: err}
			continue
		}
		wg.Add(1)
		go func(i int, req FeatureRequest) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = r.runUnit(ctx, i, req)
			metrics.PipelineUnitsTotal.WithLabelValues(string(results[i].State)).Inc()
		}(i, req)
	}

	wg.Wait()
	return results
}

func (r *Runner) runUnit(ctx context.Context, index int, req FeatureRequest) UnitResult {
	res := UnitResult{Index: index, State: StateResolveSpecVersion}

	if req.SpecVersionID == "" {
		res.State = StateRejected
		res.Err = fmt.Errorf("unit %d: %w", index, evidence.ErrVersionBinding)
		return res
	}
	version, err := r.store.GetSpec(ctx, req.SpecVersionID)
	if err != nil {
		res.State = StateRejected
		if errors.Is(err, storage.ErrNotFound) {
			err = fmt.Errorf("unit %d: version %s: %w", index, req.SpecVersionID, evidence.ErrVersionBinding)
		}
		res.Err = err
		return res
	}
	compiled, err := r.store.GetAuthority(ctx, req.SpecVersionID)
	if err != nil {
		res.State = StateRejected
		res.Err = fmt.Errorf("unit %d: version %s has no compiled authority", index, req.SpecVersionID)
		return res
	}
	if version.Product != req.Product {
		res.State = StateRejected
		res.Err = fmt.Errorf("unit %d: version %s belongs to %q, not %q",
			index, req.SpecVersionID, version.Product, req.Product)
		return res
	}

	// The binding must resolve to an accepted authority up front; POST_VALIDATE
	// would reject it anyway, but only after a generation call was spent.
	accepted, err := r.gate.Accepted(ctx, req.SpecVersionID)
	if err != nil {
		res.State = StateRejected
		res.Err = fmt.Errorf("unit %d: %w", index, err)
		return res
	}
	if !accepted {
		res.State = StateRejected
		res.Err = fmt.Errorf("unit %d: version %s: %w", index, req.SpecVersionID, evidence.ErrNotAccepted)
		return res
	}

	// Out-of-scope features are rejected before any generation call is spent.
	res.State = StateAlignCheckFeature
	terms := alignment.Terms(compiled)
	if violations := r.checker.Check(ctx, req.Text(), terms); len(violations) > 0 {
		r.logger.Info("Feature rejected before generation",
			slog.String("title", req.Title),
			slog.Int("violations", len(violations)))
		res.State = StateRejected
		res.Violations = violations
		return res
	}

	res.State = StateGenerateDraft
	story, err := r.generator.GenerateStory(ctx, req, compiled)
	if err != nil {
		res.State = StateRejected
		res.Err = fmt.Errorf("unit %d: generate: %w", index, err)
		return res
	}

	// Drift is measured against the first draft: refinement may not quietly
	// rewrite out-of-scope content away instead of rejecting it.
	originalText := story.Text()

	correctedPersona := false
	for attempt := 0; ; attempt++ {
		res.State = StatePostValidate
		record, violations, err := r.postValidate(ctx, req, originalText, story)
		if err != nil {
			res.State = StateRejected
			res.Err = fmt.Errorf("unit %d: validate: %w", index, err)
			return res
		}
		res.Story = story
		res.Evidence = record
		res.Violations = violations

		if len(violations) == 0 && record.Passed {
			res.State = StateAccepted
			return res
		}
		if !correctedPersona {
			if corrected, ok := r.tryPersonaCorrection(story, violations); ok {
				// Re-verify through the whole chain; the correction is never
				// accepted on its own authority.
				correctedPersona = true
				story = corrected
				continue
			}
		}
		if r.refiner == nil || attempt >= r.maxRefines {
			res.State = StateRejected
			return res
		}

		res.State = StateRefine
		refined, err := r.refiner.RefineStory(ctx, story, violations)
		if err != nil {
			res.State = StateRejected
			res.Err = fmt.Errorf("unit %d: refine: %w", index, err)
			return res
		}
		story = refined
	}
}

// tryPersonaCorrection rewrites the story's role clause when the only fixable
// problem is a persona mismatch. ok is false when correction is not enabled,
// not applicable, or fails re-validation.
func (r *Runner) tryPersonaCorrection(story *authority.Story, violations []authority.Violation) (*authority.Story, bool) {
	if r.personas == nil || r.requiredPersona == "" {
		return nil, false
	}
	mismatch := false
	for _, v := range violations {
		if v.Code == authority.CodePersonaMismatch {
			mismatch = true
			break
		}
	}
	if !mismatch {
		return nil, false
	}

	corrected, err := r.personas.AutoCorrect(story.Description, r.requiredPersona)
	if err != nil {
		r.logger.Warn("Persona auto-correction failed",
			slog.String("story", story.ID),
			slog.String("error", err.Error()))
		return nil, false
	}

	out := *story
	out.Description = corrected
	out.Persona = r.requiredPersona
	return &out, true
}

// postValidate runs the full validator chain, including drift detection
// against the original draft text. Drift failures are part of the persisted
// evidence row, not a side channel.
func (r *Runner) postValidate(ctx context.Context, req FeatureRequest, originalText string, story *authority.Story) (*authority.ValidationEvidence, []authority.Violation, error) {
	record, err := r.recorder.RecordDraft(ctx, story, req.SpecVersionID, originalText)
	if err != nil {
		return nil, nil, err
	}
	return record, append([]authority.Violation(nil), record.Failures...), nil
}

// Summarize renders a one-line outcome per unit for CLI output.
func Summarize(results []UnitResult) string {
	var b strings.Builder
	for _, res := range results {
		fmt.Fprintf(&b, "[%d] %s", res.Index, res.State)
		if res.Err != nil {
			fmt.Fprintf(&b, " (%v)", res.Err)
		} else if len(res.Violations) > 0 {
			codes := make([]string, len(res.Violations))
			for i, v := range res.Violations {
				codes[i] = v.Code
			}
			fmt.Fprintf(&b, " (%s)", strings.Join(codes, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
