package optimization

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// Allocator performs mean-variance portfolio allocation.
//
// It keeps no state between calls and is safe for concurrent use.
type Allocator struct {
	preference RiskPreference
	settings   SolverSettings
	log        zerolog.Logger
}

// AllocatorOption customizes an Allocator.
type AllocatorOption func(*Allocator)

// WithSolverSettings overrides the solver tolerances and iteration limits.
func WithSolverSettings(settings SolverSettings) AllocatorOption {
	return func(a *Allocator) {
		a.settings = settings
	}
}

// NewAllocator creates a new allocator. The logger receives the warning
// emitted whenever the equal-weight fallback is used.
func NewAllocator(preference RiskPreference, log zerolog.Logger, opts ...AllocatorOption) *Allocator {
	a := &Allocator{
		preference: preference,
		settings:   DefaultSolverSettings(),
		log:        log.With().Str("component", "allocator").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Preference returns the risk preference the allocator was built with.
func (a *Allocator) Preference() RiskPreference {
	return a.preference
}

// ComputePortfolio maximizes wᵀμ − (γ/2)·wᵀΣw subject to the configured
// constraints and bounds, starting from the equal-weight portfolio.
//
// Every numerical failure (bad dimensions, non-finite statistics, infeasible
// constraints, non-convergence) is logged and answered with the equal-weight
// portfolio. Only an empty or duplicated company list returns an error.
func (a *Allocator) ComputePortfolio(snapshot MarketSnapshot) (PortfolioAllocation, error) {
	if err := validateCompanies(snapshot.Companies); err != nil {
		return nil, err
	}

	weights, err := a.optimize(snapshot)
	if err != nil {
		a.log.Warn().
			Err(err).
			Int("assets", snapshot.Size()).
			Float64("gamma", a.preference.Gamma).
			Msg("Error computing portfolio, returning equal weight portfolio")
		return EqualWeight(snapshot.Companies)
	}

	portfolio := make(PortfolioAllocation, len(snapshot.Companies))
	for i, company := range snapshot.Companies {
		portfolio[company] = weights[i]
	}
	return portfolio, nil
}

// EqualWeight assigns 1/n to every company. It only fails on an empty list.
func EqualWeight(companies []string) (PortfolioAllocation, error) {
	if len(companies) == 0 {
		return nil, ErrEmptyUniverse
	}
	w := 1.0 / float64(len(companies))
	portfolio := make(PortfolioAllocation, len(companies))
	for _, company := range companies {
		portfolio[company] = w
	}
	return portfolio, nil
}

func validateCompanies(companies []string) error {
	if len(companies) == 0 {
		return ErrEmptyUniverse
	}
	seen := make(map[string]struct{}, len(companies))
	for _, company := range companies {
		if _, ok := seen[company]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateAsset, company)
		}
		seen[company] = struct{}{}
	}
	return nil
}

func (a *Allocator) optimize(snapshot MarketSnapshot) ([]float64, error) {
	n := snapshot.Size()
	gamma := a.preference.Gamma
	if math.IsNaN(gamma) || math.IsInf(gamma, 0) || gamma < 0 {
		return nil, fmt.Errorf("%w: risk aversion must be a non-negative number, got %v", ErrOptimization, gamma)
	}

	mu, sigma, err := snapshotMatrices(snapshot)
	if err != nil {
		return nil, err
	}

	bounds, err := a.preference.boundsFor(n)
	if err != nil {
		return nil, err
	}

	// wᵀΣw only sees the symmetric part of Σ.
	var sym mat.Dense
	sym.Add(sigma, sigma.T())
	sym.Scale(0.5, &sym)

	p := problem{
		objective: func(x []float64) float64 {
			w := mat.NewVecDense(n, x)
			return -mat.Dot(w, mu) + gamma/2*mat.Inner(w, &sym, w)
		},
		gradient: func(grad, x []float64) {
			w := mat.NewVecDense(n, x)
			g := mat.NewVecDense(n, grad)
			g.MulVec(&sym, w)
			g.ScaleVec(gamma, g)
			g.SubVec(g, mu)
		},
		constraints: a.preference.Constraints,
		bounds:      bounds,
	}

	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1.0 / float64(n)
	}

	sol, err := solve(p, initial, a.settings)
	if err != nil {
		return nil, err
	}

	a.log.Debug().
		Int("assets", n).
		Int("iterations", sol.Iterations).
		Float64("violation", sol.Violation).
		Msg("Portfolio optimized")

	return sol.X, nil
}

// snapshotMatrices converts μ and Σ to gonum types after checking their
// shapes against the company list and that every entry is finite.
func snapshotMatrices(snapshot MarketSnapshot) (*mat.VecDense, *mat.Dense, error) {
	n := snapshot.Size()
	if len(snapshot.Mu) != n {
		return nil, nil, fmt.Errorf("%w: %d expected returns for %d companies", ErrDimensionMismatch, len(snapshot.Mu), n)
	}
	if len(snapshot.Sigma) != n {
		return nil, nil, fmt.Errorf("%w: covariance matrix has %d rows for %d companies", ErrDimensionMismatch, len(snapshot.Sigma), n)
	}

	mu := mat.NewVecDense(n, nil)
	for i, r := range snapshot.Mu {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return nil, nil, fmt.Errorf("%w: expected return of %s is %v", ErrNonFinite, snapshot.Companies[i], r)
		}
		mu.SetVec(i, r)
	}

	sigma := mat.NewDense(n, n, nil)
	for i, row := range snapshot.Sigma {
		if len(row) != n {
			return nil, nil, fmt.Errorf("%w: covariance matrix row %d has size %d, expected %d", ErrDimensionMismatch, i, len(row), n)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, nil, fmt.Errorf("%w: covariance (%d,%d) is %v", ErrNonFinite, i, j, v)
			}
			sigma.Set(i, j, v)
		}
	}
	return mu, sigma, nil
}
