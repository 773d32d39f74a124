// Package optimization computes mean-variance portfolio allocations.
//
// The Allocator maximizes wᵀμ − (γ/2)·wᵀΣw under budget and bound
// constraints and falls back to the equal-weight portfolio whenever the
// solver cannot be trusted.
package optimization

// MarketSnapshot is the market statistics for one decision point.
// Mu and the rows/columns of Sigma follow the order of Companies.
type MarketSnapshot struct {
	Companies []string    `json:"companies" msgpack:"companies"`
	Mu        []float64   `json:"expected_return" msgpack:"expected_return"`
	Sigma     [][]float64 `json:"covariance_matrix" msgpack:"covariance_matrix"`
}

// Size returns the number of assets in the snapshot.
func (s MarketSnapshot) Size() int {
	return len(s.Companies)
}

// PortfolioAllocation maps a company identifier to its weight.
type PortfolioAllocation map[string]float64

// Sum returns the total weight of the allocation.
func (a PortfolioAllocation) Sum() float64 {
	var sum float64
	for _, w := range a {
		sum += w
	}
	return sum
}

// Vector returns the weights ordered by companies. Missing companies get 0.
func (a PortfolioAllocation) Vector(companies []string) []float64 {
	w := make([]float64, len(companies))
	for i, c := range companies {
		w[i] = a[c]
	}
	return w
}

// PortfolioStats summarizes an allocation against a snapshot.
type PortfolioStats struct {
	ExpectedReturn float64 `json:"expected_return" msgpack:"expected_return"`
	Variance       float64 `json:"variance" msgpack:"variance"`
	Volatility     float64 `json:"volatility" msgpack:"volatility"`
	Utility        float64 `json:"utility" msgpack:"utility"`
}
