package util

import "errors"

// Sentinel errors shared across packages. Package specific errors wrap
// these so callers can classify a failure without importing the package
// that produced it.
var (
	// ErrInvalidInput marks values rejected by a validator.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConfigInvalid marks a configuration that failed validation.
	ErrConfigInvalid = errors.New("invalid configuration")
)
