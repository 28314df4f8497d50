package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is matched by every *ConfigurationError via errors.Is.
var ErrInvalidConfig = errors.New("invalid config")

// ConfigurationError reports an invalid or missing setting. It is fatal:
// no flyer can be processed without a valid configuration.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidConfig
}
