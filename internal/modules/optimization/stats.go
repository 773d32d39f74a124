package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Evaluate computes expected return, variance, volatility and the
// mean-variance utility of allocation under snapshot. Companies missing from
// the allocation count as zero weight.
func Evaluate(snapshot MarketSnapshot, allocation PortfolioAllocation, gamma float64) (PortfolioStats, error) {
	if err := validateCompanies(snapshot.Companies); err != nil {
		return PortfolioStats{}, err
	}
	mu, sigma, err := snapshotMatrices(snapshot)
	if err != nil {
		return PortfolioStats{}, err
	}

	w := mat.NewVecDense(snapshot.Size(), allocation.Vector(snapshot.Companies))
	expected := mat.Dot(w, mu)
	variance := mat.Inner(w, sigma, w)

	return PortfolioStats{
		ExpectedReturn: expected,
		Variance:       variance,
		Volatility:     math.Sqrt(math.Max(variance, 0)),
		Utility:        expected - gamma/2*variance,
	}, nil
}

// Stats evaluates allocation with the allocator's risk aversion.
func (a *Allocator) Stats(snapshot MarketSnapshot, allocation PortfolioAllocation) (PortfolioStats, error) {
	stats, err := Evaluate(snapshot, allocation, a.preference.Gamma)
	if err != nil {
		return PortfolioStats{}, fmt.Errorf("failed to evaluate portfolio: %w", err)
	}
	return stats, nil
}
