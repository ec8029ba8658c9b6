package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// Validate checks ranges and enumerations. It returns ValidationErrors
// listing every problem found.
func (c Config) Validate() error {
	var errs ValidationErrors

	if u, err := url.Parse(c.API.BaseURL); c.API.BaseURL == "" {
		errs.Add("api.baseURL", "is required")
	} else if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs.Add("api.baseURL", "must be an absolute http or https URL", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		errs.Add("api.timeout", "must be positive", c.API.Timeout)
	}

	if err := ValidateOneOf("storage.backend", c.Storage.Backend, []string{"file", "bolt", "redis", "memory"}); err != nil {
		errs = append(errs, err.(ValidationError))
	}
	if c.Storage.Backend == "redis" && c.Storage.Redis.Addr == "" {
		errs.Add("storage.redis.addr", "is required for the redis backend")
	}

	if err := ValidateOneOf("scheduler.mode", c.Scheduler.Mode, []string{"poll", "precise"}); err != nil {
		errs = append(errs, err.(ValidationError))
	}
	if c.Scheduler.Interval <= 0 {
		errs.Add("scheduler.interval", "must be positive", c.Scheduler.Interval)
	}
	if c.Scheduler.Threshold <= 0 {
		errs.Add("scheduler.threshold", "must be positive", c.Scheduler.Threshold)
	}
	if c.Scheduler.MinDelay < 0 {
		errs.Add("scheduler.minDelay", "must not be negative", c.Scheduler.MinDelay)
	}

	if c.Token.ExpectedLifetime <= 0 {
		errs.Add("token.expectedLifetime", "must be positive", c.Token.ExpectedLifetime)
	} else if c.Scheduler.Threshold >= c.Token.ExpectedLifetime {
		errs.Add("scheduler.threshold", "must be shorter than token.expectedLifetime", c.Scheduler.Threshold)
	}
	if c.Token.SkewTolerance < 0 {
		errs.Add("token.skewTolerance", "must not be negative", c.Token.SkewTolerance)
	}

	if c.Guard.RedirectDelay < 0 {
		errs.Add("guard.redirectDelay", "must not be negative", c.Guard.RedirectDelay)
	}

	if err := ValidateOneOf("logLevel", strings.ToLower(c.LogLevel), []string{"debug", "info", "warn", "warning", "error"}); err != nil {
		errs = append(errs, err.(ValidationError))
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
