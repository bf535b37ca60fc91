package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "lowercases",
			input: "The Payload MUST include user_id.",
			want:  "the payload must include user_id.",
		},
		{
			name:  "collapses whitespace",
			input: "  multiple   spaces\t\tand\n\nnewlines  ",
			want:  "multiple spaces and newlines",
		},
		{
			name:  "empty",
			input: "",
			want:  "",
		},
		{
			name:  "whitespace only",
			input: " \n\t ",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonicalize(tt.input))
		})
	}
}

func TestHashStableUnderFormatting(t *testing.T) {
	a := Hash("The system SHALL reject OAuth1.")
	b := Hash("  the system   shall reject oauth1.  ")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestHashDistinguishesContent(t *testing.T) {
	assert.NotEqual(t, Hash("must include user_id"), Hash("must include user_name"))
}

func TestInvariantIDDeterministic(t *testing.T) {
	a := InvariantID("The payload must include user_id.", "REQUIRED_FIELD")
	b := InvariantID("the payload   must include user_id.", "REQUIRED_FIELD")
	assert.Equal(t, a, b)
	assert.Regexp(t, `^INV-[0-9a-f]{16}$`, a)

	// Type participates in the id.
	c := InvariantID("The payload must include user_id.", "FORBIDDEN_CAPABILITY")
	assert.NotEqual(t, a, c)
}

func TestInputHashFieldBoundaries(t *testing.T) {
	// "ab" + "c" must not collide with "a" + "bc".
	a := InputHash("ab", "c", nil)
	b := InputHash("a", "bc", nil)
	assert.NotEqual(t, a, b)

	// Criteria order matters.
	c := InputHash("t", "d", []string{"one", "two"})
	d := InputHash("t", "d", []string{"two", "one"})
	assert.NotEqual(t, c, d)
}
