package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/specauthority/authority"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		role string
		ok   bool
	}{
		{"simple", "As a developer, I want fast builds", "developer", true},
		{"an article", "As an administrator, I want audit logs", "administrator", true},
		{"case insensitive", "as A Support Agent, I WANT canned replies", "Support Agent", true},
		{"leading whitespace", "  As a user, I want dark mode", "user", true},
		{"multiline remainder", "As a user, I want exports\nso that I can archive data", "user", true},
		{"no clause", "Fast builds for everyone", "", false},
		{"clause not leading", "Goal: As a user, I want dark mode", "", false},
		{"missing i want", "As a user, exports should be fast", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role, ok := Extract(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.role, role)
		})
	}
}

func TestNormalize(t *testing.T) {
	n := NewNormalizer(map[string]string{"growth hacker": "marketer"})

	tests := []struct {
		in   string
		want string
	}{
		{"Developer", "developer"},
		{"  dev  ", "developer"},
		{"End User", "user"},
		{"QA  Engineer", "tester"},
		{"Growth Hacker", "marketer"},
		{"ops lead", "ops lead"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, n.Normalize(tt.in), tt.in)
	}
}

func TestEqual(t *testing.T) {
	n := NewNormalizer(nil)
	assert.True(t, n.Equal("dev", "Developer"))
	assert.True(t, n.Equal("End-User", "users"))
	assert.False(t, n.Equal("developer", "administrator"))
}

func TestValidate(t *testing.T) {
	n := NewNormalizer(nil)

	v := n.Validate("As a dev, I want fast builds", "developer")
	assert.Nil(t, v)

	v = n.Validate("Fast builds please", "developer")
	require.NotNil(t, v)
	assert.Equal(t, authority.CodePersonaFormatInvalid, v.Code)

	v = n.Validate("As an administrator, I want fast builds", "developer")
	require.NotNil(t, v)
	assert.Equal(t, authority.CodePersonaMismatch, v.Code)
}

func TestAutoCorrectReplacesOnlyRole(t *testing.T) {
	n := NewNormalizer(nil)

	got, err := n.AutoCorrect("As an administrator, I want fast builds\nso that CI stays green", "developer")
	require.NoError(t, err)
	assert.Equal(t, "As a developer, I want fast builds\nso that CI stays green", got)
	assert.Nil(t, n.Validate(got, "developer"))
}

func TestAutoCorrectPicksArticle(t *testing.T) {
	n := NewNormalizer(nil)
	got, err := n.AutoCorrect("As a developer, I want audit logs", "administrator")
	require.NoError(t, err)
	assert.Equal(t, "As an administrator, I want audit logs", got)
}

func TestAutoCorrectWithoutClauseFails(t *testing.T) {
	n := NewNormalizer(nil)
	_, err := n.AutoCorrect("Fast builds please", "developer")
	assert.ErrorIs(t, err, ErrUncorrectable)
}
