package susan

import "fmt"

// ConfigError reports a missing or invalid parameter or input file. It is
// always raised before any external process is launched.
type ConfigError struct {
	Field  string
	Reason string
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid configuration for %q: %s", e.Field, e.Reason)
}

// NewConfigError builds a ConfigError with a formatted reason.
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ParseError reports a missing, empty, truncated or otherwise malformed
// SUSAN output file.
type ParseError struct {
	Path   string
	Reason string
	Err    error
}

// Error implements the error interface for ParseError.
func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot parse %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("cannot parse %s: %s", e.Path, e.Reason)
}

// Unwrap exposes the underlying cause, if any.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError builds a ParseError for the given file.
func NewParseError(path, format string, args ...any) *ParseError {
	return &ParseError{Path: path, Reason: fmt.Sprintf(format, args...)}
}
