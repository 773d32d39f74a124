package optimization

import (
	"fmt"
	"math"
)

// DefaultGamma is the risk-aversion coefficient used when none is configured.
const DefaultGamma = 1.0

// Bound is the closed interval a single weight must stay in.
type Bound struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// DefaultBound disallows short selling and leverage.
var DefaultBound = Bound{Lower: 0.0, Upper: 1.0}

func (b Bound) valid() bool {
	if math.IsNaN(b.Lower) || math.IsNaN(b.Upper) {
		return false
	}
	return b.Lower <= b.Upper
}

// Contains reports whether w lies within the bound.
func (b Bound) Contains(w float64) bool {
	return w >= b.Lower && w <= b.Upper
}

// RiskPreference is the allocator configuration, fixed for a whole run.
type RiskPreference struct {
	Gamma       float64
	Constraints []Constraint
	// Bounds holds either one bound applied to every asset or one bound per
	// asset, in the order of the snapshot's companies.
	Bounds []Bound
}

// PreferenceOption customizes a RiskPreference.
type PreferenceOption func(*RiskPreference)

// WithConstraints replaces the default budget constraint.
func WithConstraints(constraints ...Constraint) PreferenceOption {
	return func(p *RiskPreference) {
		p.Constraints = constraints
	}
}

// WithBounds replaces the default uniform bound.
func WithBounds(bounds ...Bound) PreferenceOption {
	return func(p *RiskPreference) {
		p.Bounds = bounds
	}
}

// DefaultRiskPreference returns γ=1, weights summing to 1 and every weight
// in [0, 1].
func DefaultRiskPreference() RiskPreference {
	return NewRiskPreference(DefaultGamma)
}

// NewRiskPreference builds a preference, filling constraints and bounds left
// empty by the options with the defaults.
func NewRiskPreference(gamma float64, opts ...PreferenceOption) RiskPreference {
	p := RiskPreference{Gamma: gamma}
	for _, opt := range opts {
		opt(&p)
	}
	if p.Constraints == nil {
		p.Constraints = []Constraint{BudgetConstraint(1.0)}
	}
	if len(p.Bounds) == 0 {
		p.Bounds = []Bound{DefaultBound}
	}
	return p
}

// boundsFor expands the configured bounds to one per asset.
func (p RiskPreference) boundsFor(n int) ([]Bound, error) {
	var bounds []Bound
	switch len(p.Bounds) {
	case 0:
		bounds = make([]Bound, n)
		for i := range bounds {
			bounds[i] = DefaultBound
		}
	case 1:
		bounds = make([]Bound, n)
		for i := range bounds {
			bounds[i] = p.Bounds[0]
		}
	case n:
		bounds = make([]Bound, n)
		copy(bounds, p.Bounds)
	default:
		return nil, fmt.Errorf("%w: %d bounds for %d assets", ErrInvalidBounds, len(p.Bounds), n)
	}

	for i, b := range bounds {
		if !b.valid() {
			return nil, fmt.Errorf("%w: asset %d has lower %.4f above upper %.4f", ErrInvalidBounds, i, b.Lower, b.Upper)
		}
	}
	return bounds, nil
}
