package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/specauthority/authority"
)

func ptr(v int) *int { return &v }

func story() *authority.Story {
	return &authority.Story{
		ID:          "story:1",
		Product:     "checkout",
		Title:       "Guest checkout",
		Description: "As a customer, I want to check out without an account",
		Persona:     "customer",
		SelfReported: authority.SelfReport{
			ValidatorPassed:  true,
			CompliancePassed: true,
			Valid:            true,
		},
	}
}

func TestPointsForbiddenWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PointsEnabled = false
	e := New(cfg, nil)

	s := story()
	s.Points = ptr(5)
	res := e.Enforce(s)

	assert.False(t, res.IsValid)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, authority.CodeStoryPointsForbidden, res.Violations[0].Code)
	assert.Nil(t, res.Sanitized.Points)
	assert.NotNil(t, s.Points)
}

func TestPointsWithinRange(t *testing.T) {
	e := New(DefaultConfig(), nil)

	s := story()
	s.Points = ptr(5)
	res := e.Enforce(s)

	assert.True(t, res.IsValid)
	require.NotNil(t, res.Sanitized.Points)
	assert.Equal(t, 5, *res.Sanitized.Points)
}

func TestPointsOutOfRange(t *testing.T) {
	e := New(DefaultConfig(), nil)

	for _, points := range []int{0, 9, 13} {
		s := story()
		s.Points = ptr(points)
		res := e.Enforce(s)
		require.Len(t, res.Violations, 1, "points=%d", points)
		assert.Equal(t, authority.CodePointsOutOfRange, res.Violations[0].Code)
	}
}

func TestPersonaEqualityUsesNormalization(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequiredPersona = "developer"
	e := New(cfg, nil)

	s := story()
	s.Persona = "Dev"
	assert.True(t, e.Enforce(s).IsValid)

	s.Persona = "administrator"
	res := e.Enforce(s)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, authority.CodePersonaMismatch, res.Violations[0].Code)
}

func TestTimeFrameSlice(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedTimeFrame = "Q3"
	e := New(cfg, nil)

	s := story()
	s.TimeFrame = "q3"
	assert.True(t, e.Enforce(s).IsValid)

	s.TimeFrame = "Q4"
	res := e.Enforce(s)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, authority.CodeTimeFrameMismatch, res.Violations[0].Code)
}

func TestValidatorStateConsistency(t *testing.T) {
	e := New(DefaultConfig(), nil)

	s := story()
	s.SelfReported.CompliancePassed = false
	res := e.Enforce(s)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, authority.CodeValidatorStateInconsistent, res.Violations[0].Code)

	s = story()
	s.SelfReported.CriticalGaps = []string{"no error handling"}
	res = e.Enforce(s)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, authority.CodeValidatorStateInconsistent, res.Violations[0].Code)
}

func TestIndependentRulesAccumulate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PointsEnabled = false
	cfg.RequiredPersona = "developer"
	e := New(cfg, nil)

	s := story()
	s.Points = ptr(3)
	s.Persona = "customer"
	s.SelfReported.CompliancePassed = false

	res := e.Enforce(s)
	assert.False(t, res.IsValid)
	assert.Len(t, res.Violations, 3)
	assert.Equal(t, []string{"points", "persona", "time_frame", "validator_state"}, res.RulesChecked)
}

func TestMergeEnforcerWins(t *testing.T) {
	e := New(Config{PointsEnabled: false, PointsMin: 1, PointsMax: 8}, nil)

	s := story()
	s.Points = ptr(5)
	res := e.Enforce(s)

	valid, warnings := Merge(s.SelfReported, res)
	assert.False(t, valid)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "overridden")
}
