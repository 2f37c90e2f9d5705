package ble

import "errors"

// Pipeline error taxonomy. Every stage wraps one of these with context so
// callers can branch with errors.Is.
var (
	// ErrConfigMismatch means a fitted object was produced under a different
	// configuration than the current request.
	ErrConfigMismatch = errors.New("config mismatch")
	// ErrDimensionMismatch means a vector length differs from the fitted
	// input dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrFit means the training data violates the transform's domain.
	ErrFit = errors.New("fit error")
	// ErrInsufficientData means too few samples or classes to fit.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrSingularScatter means the within-class scatter matrix is degenerate.
	ErrSingularScatter = errors.New("singular within-class scatter")
	// ErrMissingModel means apply was requested before a model was fitted.
	ErrMissingModel = errors.New("missing model")
	// ErrDomain means an input value lies outside a fitted transform's domain.
	ErrDomain = errors.New("value outside transform domain")
)

// Retryable reports whether err is worth retrying on the next polling cycle.
// Only a missing model qualifies; everything else is a configuration or data
// problem that will not fix itself.
func Retryable(err error) bool {
	return errors.Is(err, ErrMissingModel)
}
