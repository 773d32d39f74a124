package optimization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRiskPreference(t *testing.T) {
	pref := DefaultRiskPreference()

	assert.Equal(t, 1.0, pref.Gamma)
	require.Len(t, pref.Constraints, 1)
	assert.Equal(t, Equality, pref.Constraints[0].Type)
	assert.InDelta(t, 0.0, pref.Constraints[0].Fun([]float64{0.5, 0.5}), 1e-12)
	assert.Equal(t, []Bound{{Lower: 0, Upper: 1}}, pref.Bounds)
}

func TestDefaultBound_ExcludesShortSelling(t *testing.T) {
	assert.False(t, DefaultBound.Contains(-1e-9))
	assert.True(t, DefaultBound.Contains(0))
	assert.True(t, DefaultBound.Contains(1))
	assert.False(t, DefaultBound.Contains(1+1e-9))
}

func TestNewRiskPreference_Options(t *testing.T) {
	maxFirst := Constraint{Name: "cap", Type: Inequality, Fun: func(w []float64) float64 { return 0.5 - w[0] }}

	pref := NewRiskPreference(2.5,
		WithConstraints(BudgetConstraint(1), maxFirst),
		WithBounds(Bound{Lower: -0.2, Upper: 0.8}),
	)

	assert.Equal(t, 2.5, pref.Gamma)
	require.Len(t, pref.Constraints, 2)
	assert.Equal(t, "cap", pref.Constraints[1].Name)
	assert.Equal(t, []Bound{{Lower: -0.2, Upper: 0.8}}, pref.Bounds)
}

func TestNewRiskPreference_EmptyOptionsKeepDefaults(t *testing.T) {
	pref := NewRiskPreference(1, WithConstraints(), WithBounds())

	require.Len(t, pref.Constraints, 1)
	assert.Equal(t, "budget", pref.Constraints[0].Name)
	assert.Equal(t, []Bound{DefaultBound}, pref.Bounds)
}

func TestRiskPreference_BoundsFor(t *testing.T) {
	testCases := []struct {
		name     string
		bounds   []Bound
		n        int
		expected []Bound
		err      bool
	}{
		{
			name:     "none uses default",
			n:        2,
			expected: []Bound{DefaultBound, DefaultBound},
		},
		{
			name:     "single bound is uniform",
			bounds:   []Bound{{Lower: -1, Upper: 2}},
			n:        3,
			expected: []Bound{{Lower: -1, Upper: 2}, {Lower: -1, Upper: 2}, {Lower: -1, Upper: 2}},
		},
		{
			name:     "per asset",
			bounds:   []Bound{{Lower: 0, Upper: 0.5}, {Lower: 0.1, Upper: 1}},
			n:        2,
			expected: []Bound{{Lower: 0, Upper: 0.5}, {Lower: 0.1, Upper: 1}},
		},
		{
			name:   "length mismatch",
			bounds: []Bound{DefaultBound, DefaultBound},
			n:      3,
			err:    true,
		},
		{
			name:   "inverted",
			bounds: []Bound{{Lower: 0.7, Upper: 0.3}},
			n:      2,
			err:    true,
		},
		{
			name:   "NaN",
			bounds: []Bound{{Lower: math.NaN(), Upper: 1}},
			n:      1,
			err:    true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pref := RiskPreference{Gamma: 1, Bounds: tc.bounds}

			bounds, err := pref.boundsFor(tc.n)

			if tc.err {
				assert.ErrorIs(t, err, ErrInvalidBounds)
				assert.ErrorIs(t, err, ErrOptimization)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, bounds)
		})
	}
}
