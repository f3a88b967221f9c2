package config

import "errors"

// ErrConfigFileNotFound is returned by AutoLoad when no bench file is
// found on any search path.
var ErrConfigFileNotFound = errors.New("config: no bench file found on search paths")

// ValidationError reports a single field that failed Validate.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return "config: " + e.Field + ": " + e.Detail
}
