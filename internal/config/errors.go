package config

import "errors"

// IsValidationError reports whether err carries configuration validation
// failures.
func IsValidationError(err error) bool {
	var many ValidationErrors
	var one ValidationError
	return errors.As(err, &many) || errors.As(err, &one)
}
