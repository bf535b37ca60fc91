// Package persona validates the role clause of generated user stories against
// the persona the spec requires, with synonym-aware normalization and a
// conservative auto-correction that must re-validate or fail.
package persona

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/c360studio/specauthority/authority"
)

// ErrUncorrectable is returned when an auto-corrected story still fails
// validation. The violation is fatal; a correction is never silently accepted.
var ErrUncorrectable = errors.New("persona violation could not be corrected")

// clauseRe matches a leading "As a|an <role>, I want" clause. The role is
// everything between the article and the comma.
var clauseRe = regexp.MustCompile(`(?is)^\s*as\s+(a|an)\s+([^,]+?)\s*,\s*(i\s+want\b.*)`)

// Extract parses the leading role clause. ok is false when the text does not
// open with one.
func Extract(text string) (role string, ok bool) {
	m := clauseRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[2], true
}

// DefaultSynonyms maps common role spellings to their canonical form.
func DefaultSynonyms() map[string]string {
	return map[string]string{
		"dev":            "developer",
		"devs":           "developer",
		"developers":     "developer",
		"engineer":       "developer",
		"admin":          "administrator",
		"admins":         "administrator",
		"administrators": "administrator",
		"sysadmin":       "administrator",
		"end user":       "user",
		"end-user":       "user",
		"users":          "user",
		"customers":      "customer",
		"pm":             "product manager",
		"qa":             "tester",
		"qa engineer":    "tester",
		"testers":        "tester",
	}
}

// Normalizer canonicalizes role names.
type Normalizer struct {
	synonyms map[string]string
}

// NewNormalizer creates a Normalizer. The defaults are extended, not
// replaced, by the given synonyms.
func NewNormalizer(synonyms map[string]string) *Normalizer {
	merged := DefaultSynonyms()
	for k, v := range synonyms {
		merged[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
	}
	return &Normalizer{synonyms: merged}
}

// Normalize lowercases, collapses whitespace, and resolves synonyms.
func (n *Normalizer) Normalize(role string) string {
	canonical := strings.ToLower(strings.Join(strings.Fields(role), " "))
	if mapped, ok := n.synonyms[canonical]; ok {
		return mapped
	}
	return canonical
}

// Equal reports whether two roles normalize to the same canonical form.
func (n *Normalizer) Equal(a, b string) bool {
	return n.Normalize(a) == n.Normalize(b)
}

// Validate checks that text opens with a role clause naming the required
// persona. It returns nil when valid, or a single structured violation:
// PERSONA_FORMAT_INVALID when the clause is absent, PERSONA_MISMATCH when the
// normalized roles differ.
func (n *Normalizer) Validate(text, required string) *authority.Violation {
	role, ok := Extract(text)
	if !ok {
		return &authority.Violation{
			Code:    authority.CodePersonaFormatInvalid,
			Message: `story must open with an "As a <role>, I want" clause`,
		}
	}
	if !n.Equal(role, required) {
		return &authority.Violation{
			Code: authority.CodePersonaMismatch,
			Message: fmt.Sprintf("story persona %q does not match required persona %q",
				role, required),
		}
	}
	return nil
}

// AutoCorrect rewrites only the role clause to name the required persona,
// preserving the remainder of the text verbatim. The corrected text must
// re-validate; ErrUncorrectable otherwise.
func (n *Normalizer) AutoCorrect(text, required string) (string, error) {
	m := clauseRe.FindStringSubmatchIndex(text)
	if m == nil {
		return "", fmt.Errorf("no role clause to correct: %w", ErrUncorrectable)
	}

	// m[2]:m[3] spans the article and m[4]:m[5] the role; everything outside
	// the clause is kept byte for byte.
	corrected := text[:m[2]] + articleFor(required) + text[m[3]:m[4]] + required + text[m[5]:]
	if v := n.Validate(corrected, required); v != nil {
		return "", fmt.Errorf("correction failed validation (%s): %w", v.Code, ErrUncorrectable)
	}
	return corrected, nil
}

func articleFor(role string) string {
	if role != "" && strings.ContainsRune("aeiouAEIOU", rune(role[0])) {
		return "an"
	}
	return "a"
}
