package optimization

import (
	"fmt"
	"sort"
)

// ConstraintType distinguishes equality from inequality constraints.
type ConstraintType int

const (
	// Equality requires Fun(w) == 0.
	Equality ConstraintType = iota
	// Inequality requires Fun(w) >= 0.
	Inequality
)

func (t ConstraintType) String() string {
	switch t {
	case Equality:
		return "eq"
	case Inequality:
		return "ineq"
	default:
		return fmt.Sprintf("ConstraintType(%d)", int(t))
	}
}

// Constraint is a scalar condition on the weight vector.
//
// Jac is optional. When it is nil the gradient is estimated with central
// finite differences.
type Constraint struct {
	Name string
	Type ConstraintType
	Fun  func(w []float64) float64
	Jac  func(grad, w []float64)
}

func (c Constraint) label(i int) string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("%s[%d]", c.Type, i)
}

// BudgetConstraint requires the weights to sum to total.
func BudgetConstraint(total float64) Constraint {
	return Constraint{
		Name: "budget",
		Type: Equality,
		Fun: func(w []float64) float64 {
			var sum float64
			for _, x := range w {
				sum += x
			}
			return sum - total
		},
		Jac: func(grad, w []float64) {
			for i := range grad {
				grad[i] = 1
			}
		},
	}
}

// GroupConstraints limits the summed weight of groups of companies (sectors,
// geographies). members maps a company to its group; companies without a
// group are ignored. lower and upper are keyed by group.
//
// The returned constraints index weights by the position of each company in
// companies, so they must be used with snapshots listing companies in the
// same order.
func GroupConstraints(
	companies []string,
	members map[string]string,
	lower map[string]float64,
	upper map[string]float64,
) []Constraint {
	indices := make(map[string][]int)
	for i, company := range companies {
		if group := members[company]; group != "" {
			indices[group] = append(indices[group], i)
		}
	}

	groups := make([]string, 0, len(indices))
	for group := range indices {
		groups = append(groups, group)
	}
	sort.Strings(groups)

	var constraints []Constraint
	for _, group := range groups {
		idx := indices[group]
		if lo, ok := lower[group]; ok {
			constraints = append(constraints, groupConstraint(group+" >= lower", idx, lo, 1))
		}
		if hi, ok := upper[group]; ok {
			constraints = append(constraints, groupConstraint(group+" <= upper", idx, hi, -1))
		}
	}
	return constraints
}

// groupConstraint builds sign·(Σ w[idx] − limit) >= 0.
func groupConstraint(name string, idx []int, limit, sign float64) Constraint {
	return Constraint{
		Name: name,
		Type: Inequality,
		Fun: func(w []float64) float64 {
			var sum float64
			for _, i := range idx {
				sum += w[i]
			}
			return sign * (sum - limit)
		},
		Jac: func(grad, w []float64) {
			for i := range grad {
				grad[i] = 0
			}
			for _, i := range idx {
				grad[i] = sign
			}
		},
	}
}
