package stats

import "errors"

var (
	// ErrInsufficientData is returned when a series is shorter than a component's minimum
	ErrInsufficientData = errors.New("insufficient data")

	// ErrAlignment is returned when paired series do not share the same timestamps
	ErrAlignment = errors.New("series not aligned")

	// ErrDegenerateFit is returned when a regression slope or scale is indistinguishable from zero
	ErrDegenerateFit = errors.New("degenerate fit")

	// ErrLengthMismatch is returned when inputs that must be co-indexed are not
	ErrLengthMismatch = errors.New("length mismatch")

	// ErrInvalidParameter is returned when a parameter or input value is invalid
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNoMeanReversion is returned when a fit shows no mean reversion and the caller requires it
	ErrNoMeanReversion = errors.New("no mean reversion detected")
)
