// Package alignment enforces forbidden-capability scope constraints from a
// compiled authority against generated text, and detects silent drift where
// out-of-scope content is rewritten away instead of rejected.
package alignment

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/c360studio/specauthority/authority"
)

// Term is a forbidden capability extracted from a compiled authority,
// carrying the invariant it came from for evidence reporting.
type Term struct {
	Term        string `json:"term"`
	InvariantID string `json:"invariant_id"`
}

// Terms extracts (term, invariant id) pairs from the authority's
// FORBIDDEN_CAPABILITY invariants. Legacy string-encoded invariants are
// already decoded into typed parameters at the artifact boundary, so a single
// pass over typed invariants covers both encodings.
func Terms(a *authority.CompiledAuthority) []Term {
	var out []Term
	for _, inv := range a.Artifact.Invariants {
		if inv.Type != authority.InvariantForbiddenCapability || inv.Forbidden == nil {
			continue
		}
		term := strings.TrimSpace(inv.Forbidden.Term)
		if term == "" {
			continue
		}
		out = append(out, Term{Term: term, InvariantID: inv.ID})
	}
	return out
}

// NegationProber is the optional external collaborator that decides whether a
// forbidden-term mention is a defensive negation ("does not support OAuth1")
// rather than an in-scope use.
type NegationProber interface {
	IsNegation(ctx context.Context, text, term string) (bool, error)
}

// Checker scans text for forbidden-capability violations.
type Checker struct {
	prober NegationProber
	logger *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithNegationProber enables negation suppression via the given collaborator.
func WithNegationProber(p NegationProber) Option {
	return func(c *Checker) {
		c.prober = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Checker) {
		c.logger = l
	}
}

// New creates a Checker. Without a NegationProber every match is a violation.
func New(opts ...Option) *Checker {
	c := &Checker{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check scans text for each forbidden term with a case-insensitive whole-word
// match. A match is a violation unless the negation prober confirms it is a
// defensive negation. A prober failure keeps the violation: suppression
// requires positive confirmation.
func (c *Checker) Check(ctx context.Context, text string, terms []Term) []authority.Violation {
	var violations []authority.Violation
	for _, t := range terms {
		if !matchesTerm(text, t.Term) {
			continue
		}
		if c.prober != nil {
			negated, err := c.prober.IsNegation(ctx, text, t.Term)
			if err != nil {
				c.logger.Warn("Negation probe failed, keeping violation",
					slog.String("term", t.Term),
					slog.String("error", err.Error()))
			} else if negated {
				c.logger.Debug("Suppressed defensive negation",
					slog.String("term", t.Term))
				continue
			}
		}
		violations = append(violations, authority.Violation{
			Code:        authority.CodeForbiddenCapability,
			Message:     fmt.Sprintf("text references forbidden capability %q", t.Term),
			InvariantID: t.InvariantID,
		})
	}
	return violations
}

// DetectDrift flags silent transformation: the original text mentioned a
// forbidden term that the final text no longer does. Out-of-scope requests
// must be rejected explicitly, never quietly rewritten away. A mention the
// prober confirms as a defensive negation in the original is not drift.
func (c *Checker) DetectDrift(ctx context.Context, original, final string, terms []Term) []authority.Violation {
	var violations []authority.Violation
	for _, t := range terms {
		if !matchesTerm(original, t.Term) || matchesTerm(final, t.Term) {
			continue
		}
		if c.prober != nil {
			negated, err := c.prober.IsNegation(ctx, original, t.Term)
			if err != nil {
				c.logger.Warn("Negation probe failed during drift detection",
					slog.String("term", t.Term),
					slog.String("error", err.Error()))
			} else if negated {
				continue
			}
		}
		violations = append(violations, authority.Violation{
			Code: authority.CodeScopeDrift,
			Message: fmt.Sprintf("forbidden capability %q was silently removed instead of rejected",
				t.Term),
			InvariantID: t.InvariantID,
		})
	}
	return violations
}

func matchesTerm(text, term string) bool {
	return WordPattern(term).MatchString(text)
}

var (
	patternMu    sync.Mutex
	patternCache = map[string]*regexp.Regexp{}

	// neverMatch cannot match any input: nothing follows end of text.
	neverMatch = regexp.MustCompile(`\z.`)
)

// WordPattern returns a case-insensitive whole-word matcher for term.
// A \b assertion next to a non-word character can never hold, so the anchors
// are applied only where the term itself starts or ends with a word
// character; terms like "C++" or ".NET" stay matchable. Compiled patterns are
// cached, the same term set is scanned on every validation.
func WordPattern(term string) *regexp.Regexp {
	if term == "" {
		return neverMatch
	}
	patternMu.Lock()
	defer patternMu.Unlock()
	if re, ok := patternCache[term]; ok {
		return re
	}

	pattern := "(?i)"
	if isWordByte(term[0]) {
		pattern += `\b`
	}
	pattern += regexp.QuoteMeta(term)
	if isWordByte(term[len(term)-1]) {
		pattern += `\b`
	}

	re := regexp.MustCompile(pattern)
	patternCache[term] = re
	return re
}

// isWordByte matches the \w class regexp's \b asserts against.
func isWordByte(c byte) bool {
	return c == '_' ||
		('0' <= c && c <= '9') ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z')
}
