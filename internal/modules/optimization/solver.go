package optimization

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// SolverSettings tunes the constrained solver.
type SolverSettings struct {
	// MaxIterations caps the outer (multiplier update) iterations.
	MaxIterations int
	// InnerIterations caps the BFGS major iterations of each outer step.
	InnerIterations int
	// FeasibilityTolerance is the largest constraint violation accepted.
	FeasibilityTolerance float64
	// StepTolerance is the largest change in any weight between two outer
	// iterations for the solution to count as converged.
	StepTolerance     float64
	GradientTolerance float64
	InitialPenalty    float64
	MaxPenalty        float64
}

// DefaultSolverSettings returns settings that solve typical portfolios of a
// few hundred assets to well under 1e-6.
func DefaultSolverSettings() SolverSettings {
	return SolverSettings{
		MaxIterations:        100,
		InnerIterations:      1000,
		FeasibilityTolerance: 1e-8,
		StepTolerance:        1e-7,
		GradientTolerance:    1e-10,
		InitialPenalty:       10,
		MaxPenalty:           1e8,
	}
}

func (s SolverSettings) withDefaults() SolverSettings {
	d := DefaultSolverSettings()
	if s.MaxIterations <= 0 {
		s.MaxIterations = d.MaxIterations
	}
	if s.InnerIterations <= 0 {
		s.InnerIterations = d.InnerIterations
	}
	if s.FeasibilityTolerance <= 0 {
		s.FeasibilityTolerance = d.FeasibilityTolerance
	}
	if s.StepTolerance <= 0 {
		s.StepTolerance = d.StepTolerance
	}
	if s.GradientTolerance <= 0 {
		s.GradientTolerance = d.GradientTolerance
	}
	if s.InitialPenalty <= 0 {
		s.InitialPenalty = d.InitialPenalty
	}
	if s.MaxPenalty < s.InitialPenalty {
		s.MaxPenalty = math.Max(d.MaxPenalty, s.InitialPenalty)
	}
	return s
}

// stallLimit is the number of outer iterations at the penalty cap without
// progress after which the constraints are treated as infeasible.
const stallLimit = 5

// innerRestarts is how often a stalled BFGS subproblem is restarted from its
// last point before the stall is reported.
const innerRestarts = 2

// stationaryTolerance bounds the augmented Lagrangian gradient, scaled by
// √ρ, at which a stalled line search still counts as a solved subproblem.
const stationaryTolerance = 1e-6

// problem is a smooth objective with general constraints and box bounds.
type problem struct {
	objective   func(x []float64) float64
	gradient    func(grad, x []float64)
	constraints []Constraint
	bounds      []Bound
}

type solution struct {
	X          []float64
	Iterations int
	Violation  float64
}

// guard records the first failure raised by a callback. Evaluations run on
// gonum's worker goroutines, so panics are recovered where they happen.
type guard struct {
	mu  sync.Mutex
	err error
}

func (g *guard) fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err == nil {
		g.err = err
	}
}

func (g *guard) failure() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

func (g *guard) value(name string, fn func() float64) (v float64) {
	defer func() {
		if r := recover(); r != nil {
			g.fail(fmt.Errorf("%w: %s panicked: %v", ErrInvalidConstraint, name, r))
			v = math.NaN()
		}
	}()
	v = fn()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		g.fail(fmt.Errorf("%w: %s evaluated to %v", ErrNonFinite, name, v))
	}
	return v
}

func (g *guard) run(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			g.fail(fmt.Errorf("%w: %s panicked: %v", ErrInvalidConstraint, name, r))
		}
	}()
	fn()
}

// augmentedLagrangian minimizes a problem by solving a sequence of
// unconstrained BFGS subproblems on the augmented Lagrangian, updating the
// multipliers between them. Bounds are handled as inequality constraints
// with analytic gradients.
type augmentedLagrangian struct {
	p        problem
	settings SolverSettings
	guard    guard

	eq, ineq []int // indices into p.constraints
	labels   []string

	rho     float64
	lambda  []float64 // equality multipliers
	nu      []float64 // inequality multipliers
	lowerNu []float64
	upperNu []float64

	scratch []float64
}

func newAugmentedLagrangian(p problem, n int, settings SolverSettings) (*augmentedLagrangian, error) {
	if len(p.bounds) != n {
		return nil, fmt.Errorf("%w: %d bounds for %d variables", ErrInvalidBounds, len(p.bounds), n)
	}

	al := &augmentedLagrangian{
		p:        p,
		settings: settings,
		rho:      settings.InitialPenalty,
		lowerNu:  make([]float64, n),
		upperNu:  make([]float64, n),
		scratch:  make([]float64, n),
	}
	al.labels = make([]string, len(p.constraints))
	for i, c := range p.constraints {
		al.labels[i] = c.label(i)
		if c.Fun == nil {
			return nil, fmt.Errorf("%w: %s has no function", ErrInvalidConstraint, al.labels[i])
		}
		switch c.Type {
		case Equality:
			al.eq = append(al.eq, i)
		case Inequality:
			al.ineq = append(al.ineq, i)
		default:
			return nil, fmt.Errorf("%w: %s has unknown type %v", ErrInvalidConstraint, al.labels[i], c.Type)
		}
	}
	al.lambda = make([]float64, len(al.eq))
	al.nu = make([]float64, len(al.ineq))
	return al, nil
}

func (al *augmentedLagrangian) constraintValue(i int, x []float64) float64 {
	c := al.p.constraints[i]
	return al.guard.value(al.labels[i], func() float64 { return c.Fun(x) })
}

func (al *augmentedLagrangian) constraintGrad(grad []float64, i int, x []float64) {
	c := al.p.constraints[i]
	if c.Jac != nil {
		al.guard.run(al.labels[i], func() { c.Jac(grad, x) })
		return
	}
	al.guard.run(al.labels[i], func() {
		fd.Gradient(grad, c.Fun, x, &fd.Settings{Formula: fd.Central})
	})
}

func (al *augmentedLagrangian) value(x []float64) float64 {
	v := al.guard.value("objective", func() float64 { return al.p.objective(x) })

	for j, i := range al.eq {
		h := al.constraintValue(i, x)
		v += al.lambda[j]*h + 0.5*al.rho*h*h
	}
	for k, i := range al.ineq {
		g := al.constraintValue(i, x)
		v += al.inequalityTerm(al.nu[k], g)
	}
	for i, b := range al.p.bounds {
		if !math.IsInf(b.Lower, -1) {
			v += al.inequalityTerm(al.lowerNu[i], x[i]-b.Lower)
		}
		if !math.IsInf(b.Upper, 1) {
			v += al.inequalityTerm(al.upperNu[i], b.Upper-x[i])
		}
	}
	return v
}

// inequalityTerm is the augmented Lagrangian contribution of g(x) >= 0 with
// multiplier nu.
func (al *augmentedLagrangian) inequalityTerm(nu, g float64) float64 {
	t := math.Max(0, nu-al.rho*g)
	return (t*t - nu*nu) / (2 * al.rho)
}

func (al *augmentedLagrangian) grad(grad, x []float64) {
	al.guard.run("objective gradient", func() { al.p.gradient(grad, x) })

	for j, i := range al.eq {
		h := al.constraintValue(i, x)
		al.constraintGrad(al.scratch, i, x)
		floats.AddScaled(grad, al.lambda[j]+al.rho*h, al.scratch)
	}
	for k, i := range al.ineq {
		g := al.constraintValue(i, x)
		t := math.Max(0, al.nu[k]-al.rho*g)
		if t == 0 {
			continue
		}
		al.constraintGrad(al.scratch, i, x)
		floats.AddScaled(grad, -t, al.scratch)
	}
	for i, b := range al.p.bounds {
		if !math.IsInf(b.Lower, -1) {
			grad[i] -= math.Max(0, al.lowerNu[i]-al.rho*(x[i]-b.Lower))
		}
		if !math.IsInf(b.Upper, 1) {
			grad[i] += math.Max(0, al.upperNu[i]-al.rho*(b.Upper-x[i]))
		}
	}
}

func (al *augmentedLagrangian) status() (optimize.Status, error) {
	if err := al.guard.failure(); err != nil {
		return optimize.Failure, err
	}
	return optimize.NotTerminated, nil
}

// violation returns the largest constraint violation at x, or the summed
// bound violation when that is larger. Clipping x into its bounds shifts a
// unit-coefficient constraint by at most that sum.
func (al *augmentedLagrangian) violation(x []float64) float64 {
	var worst, outside float64
	for _, i := range al.eq {
		worst = math.Max(worst, math.Abs(al.constraintValue(i, x)))
	}
	for _, i := range al.ineq {
		worst = math.Max(worst, -al.constraintValue(i, x))
	}
	for i, b := range al.p.bounds {
		outside += math.Max(0, b.Lower-x[i]) + math.Max(0, x[i]-b.Upper)
	}
	return math.Max(worst, outside)
}

// gradientNorm returns the infinity norm of the augmented Lagrangian
// gradient at x.
func (al *augmentedLagrangian) gradientNorm(x []float64) float64 {
	grad := make([]float64, len(x))
	al.grad(grad, x)
	return floats.Norm(grad, math.Inf(1))
}

// stationary reports whether x solves the current subproblem.
func (al *augmentedLagrangian) stationary(x []float64) (float64, bool) {
	norm := al.gradientNorm(x)
	return norm, norm <= stationaryTolerance*math.Max(1, math.Sqrt(al.rho))
}

func (al *augmentedLagrangian) updateMultipliers(x []float64) {
	for j, i := range al.eq {
		al.lambda[j] += al.rho * al.constraintValue(i, x)
	}
	for k, i := range al.ineq {
		al.nu[k] = math.Max(0, al.nu[k]-al.rho*al.constraintValue(i, x))
	}
	for i, b := range al.p.bounds {
		if !math.IsInf(b.Lower, -1) {
			al.lowerNu[i] = math.Max(0, al.lowerNu[i]-al.rho*(x[i]-b.Lower))
		}
		if !math.IsInf(b.Upper, 1) {
			al.upperNu[i] = math.Max(0, al.upperNu[i]-al.rho*(b.Upper-x[i]))
		}
	}
}

// minimizeInner runs one BFGS subproblem from x.
func (al *augmentedLagrangian) minimizeInner(x []float64) ([]float64, error) {
	prob := optimize.Problem{
		Func:   al.value,
		Grad:   al.grad,
		Status: al.status,
	}
	settings := &optimize.Settings{
		GradientThreshold: al.settings.GradientTolerance,
		MajorIterations:   al.settings.InnerIterations,
	}

	for attempt := 0; ; attempt++ {
		result, err := optimize.Minimize(prob, x, settings, &optimize.BFGS{})
		if gerr := al.guard.failure(); gerr != nil {
			return nil, gerr
		}
		if err != nil {
			// Line searches also stall once the subproblem is solved to
			// machine precision. That is told apart from divergence by the
			// gradient at the last point.
			stalled := errors.Is(err, optimize.ErrNoProgress) ||
				errors.Is(err, optimize.ErrLinesearcherFailure) ||
				errors.Is(err, optimize.ErrNonDescentDirection)
			if !stalled || result == nil {
				return nil, fmt.Errorf("%w: %v", ErrNotConverged, err)
			}
		}
		for _, v := range result.X {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: solver produced %v", ErrNonFinite, v)
			}
		}
		if err == nil {
			return result.X, nil
		}

		norm, ok := al.stationary(result.X)
		if gerr := al.guard.failure(); gerr != nil {
			return nil, gerr
		}
		if ok {
			return result.X, nil
		}
		if attempt == innerRestarts {
			return nil, fmt.Errorf("%w: %v with gradient norm %.3g", ErrNotConverged, err, norm)
		}
		x = result.X
	}
}

func (al *augmentedLagrangian) solve(x0 []float64) (solution, error) {
	x := make([]float64, len(x0))
	copy(x, x0)

	prevViolation := math.Inf(1)
	stalls := 0

	for iter := 1; iter <= al.settings.MaxIterations; iter++ {
		next, err := al.minimizeInner(x)
		if err != nil {
			return solution{Iterations: iter}, err
		}

		step := floats.Distance(next, x, math.Inf(1))
		x = next

		violation := al.violation(x)
		if err := al.guard.failure(); err != nil {
			return solution{Iterations: iter}, err
		}
		if violation <= al.settings.FeasibilityTolerance && step <= al.settings.StepTolerance {
			clipped := make([]float64, len(x))
			copy(clipped, x)
			clipToBounds(clipped, al.p.bounds)

			clippedViolation := al.violation(clipped)
			if err := al.guard.failure(); err != nil {
				return solution{Iterations: iter}, err
			}
			if clippedViolation <= al.settings.FeasibilityTolerance {
				return solution{X: clipped, Iterations: iter, Violation: clippedViolation}, nil
			}
		}

		al.updateMultipliers(x)

		if violation > al.settings.FeasibilityTolerance && violation > 0.25*prevViolation {
			if al.rho >= al.settings.MaxPenalty {
				stalls++
				if stalls >= stallLimit {
					return solution{X: x, Iterations: iter, Violation: violation},
						fmt.Errorf("%w: constraints appear infeasible (violation %.3g)", ErrNotConverged, violation)
				}
			}
			al.rho = math.Min(al.rho*10, al.settings.MaxPenalty)
		} else {
			stalls = 0
		}
		prevViolation = violation
	}

	return solution{X: x, Iterations: al.settings.MaxIterations, Violation: al.violation(x)},
		fmt.Errorf("%w: %d iterations exhausted", ErrNotConverged, al.settings.MaxIterations)
}

func clipToBounds(x []float64, bounds []Bound) {
	for i, b := range bounds {
		x[i] = math.Max(b.Lower, math.Min(b.Upper, x[i]))
	}
}

// solve minimizes p from x0.
func solve(p problem, x0 []float64, settings SolverSettings) (solution, error) {
	al, err := newAugmentedLagrangian(p, len(x0), settings.withDefaults())
	if err != nil {
		return solution{}, err
	}
	return al.solve(x0)
}
