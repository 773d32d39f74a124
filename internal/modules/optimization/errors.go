package optimization

import "errors"

// Structural misuse. These are the only errors ComputePortfolio returns.
var (
	ErrEmptyUniverse  = errors.New("no companies provided")
	ErrDuplicateAsset = errors.New("duplicate company")
)

// ErrOptimization is the recoverable failure class. Every error below wraps
// it, and any of them sends the allocator down the equal-weight fallback.
var ErrOptimization = errors.New("optimization failed")

var (
	ErrDimensionMismatch = wrapOptimization("dimension mismatch")
	ErrNonFinite         = wrapOptimization("non-finite input")
	ErrInvalidBounds     = wrapOptimization("invalid bounds")
	ErrInvalidConstraint = wrapOptimization("invalid constraint")
	ErrNotConverged      = wrapOptimization("optimization did not converge")
)

type optimizationError struct {
	msg string
}

func wrapOptimization(msg string) error {
	return &optimizationError{msg: msg}
}

func (e *optimizationError) Error() string { return e.msg }

func (e *optimizationError) Unwrap() error { return ErrOptimization }
