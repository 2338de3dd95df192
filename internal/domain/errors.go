package domain

import "errors"

// Failure conditions the engine reports explicitly. Callers classify with
// errors.Is; call sites add context with fmt.Errorf("...: %w", err).
var (
	// ErrInsufficientData covers missing benchmark bars, too few trading
	// days, and similar data shortfalls. Backtests fail fast on it; the
	// live path treats an empty candidate slice as a no-trade cycle.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrModelDrift means a stored model's feature schema no longer
	// matches the feature pipeline output.
	ErrModelDrift = errors.New("model feature schema mismatch")

	// ErrNumericDegeneracy flags inputs that would produce divisions by
	// zero or non-finite weights.
	ErrNumericDegeneracy = errors.New("numeric degeneracy")
)
