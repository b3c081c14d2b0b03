package movement

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration marks inputs that make a move impossible to
	// evaluate. It never means the move itself is illegal.
	ErrInvalidConfiguration = errors.New("movement configuration invalid")
	ErrNegativeMovement     = errors.New("movement feet must not be negative")
	ErrNegativeActionPoints = errors.New("action points spent must not be negative")
)

// ConfigurationError names the offending configuration value.
type ConfigurationError struct {
	Field string
	Value float64
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s=%v", ErrInvalidConfiguration, e.Field, e.Value)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidConfiguration
}
