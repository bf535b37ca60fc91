package authority

import (
	"encoding/json"
	"fmt"
	"strings"
)

// InvariantType discriminates the invariant variants.
type InvariantType string

// Supported invariant types.
const (
	InvariantForbiddenCapability InvariantType = "FORBIDDEN_CAPABILITY"
	InvariantRequiredField       InvariantType = "REQUIRED_FIELD"
	InvariantMaxValue            InvariantType = "MAX_VALUE"
)

// ForbiddenCapabilityParams names a capability the spec places out of scope.
type ForbiddenCapabilityParams struct {
	Term string `json:"term"`
}

// RequiredFieldParams names a field the candidate artifact must mention.
type RequiredFieldParams struct {
	Field string `json:"field"`
}

// MaxValueParams bounds a numeric field of the candidate artifact.
type MaxValueParams struct {
	Field string  `json:"field"`
	Limit float64 `json:"limit"`
}

// Invariant is a structured, typed rule extracted from a spec. Parameters is
// a tagged union keyed by Type; exactly one of the typed fields is set after
// decoding.
type Invariant struct {
	ID   string        `json:"id"`
	Type InvariantType `json:"type"`

	Forbidden     *ForbiddenCapabilityParams `json:"-"`
	RequiredField *RequiredFieldParams       `json:"-"`
	MaxValue      *MaxValueParams            `json:"-"`
}

// rawInvariant is the wire shape emitted by the external compiler.
type rawInvariant struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// UnmarshalJSON decodes an invariant from either the structured wire shape or
// the legacy string encoding "TYPE: value" that older compiler outputs emit.
func (inv *Invariant) UnmarshalJSON(data []byte) error {
	// Legacy fallback: a bare JSON string.
	var legacy string
	if err := json.Unmarshal(data, &legacy); err == nil {
		parsed, err := parseLegacyInvariant(legacy)
		if err != nil {
			return err
		}
		*inv = *parsed
		return nil
	}

	var raw rawInvariant
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode invariant: %w", err)
	}

	out := Invariant{
		ID:   raw.ID,
		Type: InvariantType(raw.Type),
	}

	params := raw.Parameters
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	switch out.Type {
	case InvariantForbiddenCapability:
		var p ForbiddenCapabilityParams
		if err := json.Unmarshal(params, &p); err != nil {
			return fmt.Errorf("decode forbidden-capability parameters: %w", err)
		}
		out.Forbidden = &p
	case InvariantRequiredField:
		var p RequiredFieldParams
		if err := json.Unmarshal(params, &p); err != nil {
			return fmt.Errorf("decode required-field parameters: %w", err)
		}
		out.RequiredField = &p
	case InvariantMaxValue:
		var p MaxValueParams
		if err := json.Unmarshal(params, &p); err != nil {
			return fmt.Errorf("decode max-value parameters: %w", err)
		}
		out.MaxValue = &p
	default:
		return fmt.Errorf("unknown invariant type %q", raw.Type)
	}

	*inv = out
	return nil
}

// MarshalJSON writes the structured wire shape.
func (inv Invariant) MarshalJSON() ([]byte, error) {
	raw := rawInvariant{
		ID:   inv.ID,
		Type: string(inv.Type),
	}

	var params any
	switch inv.Type {
	case InvariantForbiddenCapability:
		params = inv.Forbidden
	case InvariantRequiredField:
		params = inv.RequiredField
	case InvariantMaxValue:
		params = inv.MaxValue
	default:
		return nil, fmt.Errorf("unknown invariant type %q", inv.Type)
	}

	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	raw.Parameters = data

	return json.Marshal(raw)
}

// parseLegacyInvariant parses the legacy "TYPE: value" string encoding.
// For FORBIDDEN_CAPABILITY the value is the forbidden term; other types
// cannot round-trip through the legacy form and are rejected.
func parseLegacyInvariant(s string) (*Invariant, error) {
	typ, value, found := strings.Cut(s, ":")
	if !found {
		return nil, fmt.Errorf("legacy invariant %q: missing type separator", s)
	}
	typ = strings.TrimSpace(typ)
	value = strings.TrimSpace(value)

	if InvariantType(typ) != InvariantForbiddenCapability {
		return nil, fmt.Errorf("legacy invariant %q: unsupported type %q", s, typ)
	}
	if value == "" {
		return nil, fmt.Errorf("legacy invariant %q: empty term", s)
	}

	return &Invariant{
		Type:      InvariantForbiddenCapability,
		Forbidden: &ForbiddenCapabilityParams{Term: value},
	}, nil
}
