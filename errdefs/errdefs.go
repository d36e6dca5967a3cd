// Package errdefs defines the error taxonomy used throughout a test run.
//
// Only a ConfigurationError is allowed to stop the whole run. Every other kind is scoped to a
// single pipeline and is converted into that pipeline's result by the dispatcher.
package errdefs

import (
	"errors"
	"fmt"
)

// ConfigurationError means that required configuration, such as credentials or the environment
// matrix, was missing or invalid.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Err)
	}
	return fmt.Sprintf("configuration error in %q: %s", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Configurationf is a shortcut for creating a ConfigurationError with a formatted message.
func Configurationf(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// SessionCreationError means the remote provider rejected or could not service a session request.
type SessionCreationError struct {
	Environment string
	StatusCode  int // zero if no HTTP response was received
	Err         error
}

func (e *SessionCreationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("could not create session for %s (HTTP %d): %s", e.Environment, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("could not create session for %s: %s", e.Environment, e.Err)
}

func (e *SessionCreationError) Unwrap() error { return e.Err }

// ExecutionError means that browser automation itself broke down while a scenario was running,
// as opposed to an assertion about the page failing.
type ExecutionError struct {
	SessionID string
	Step      string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error in session %s during %s: %s", e.SessionID, e.Step, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ReportingError means that an outcome could not be delivered to the remote provider.
type ReportingError struct {
	SessionID string
	Err       error
}

func (e *ReportingError) Error() string {
	return fmt.Sprintf("could not report result for session %s: %s", e.SessionID, e.Err)
}

func (e *ReportingError) Unwrap() error { return e.Err }

// ReleaseError means that a remote session could not be closed, so it may still be consuming
// resources at the provider until it times out there.
type ReleaseError struct {
	SessionID string
	Err       error
}

func (e *ReleaseError) Error() string {
	return fmt.Sprintf("could not release session %s (possible leak): %s", e.SessionID, e.Err)
}

func (e *ReleaseError) Unwrap() error { return e.Err }

func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

func IsSessionCreation(err error) bool {
	var target *SessionCreationError
	return errors.As(err, &target)
}

func IsExecution(err error) bool {
	var target *ExecutionError
	return errors.As(err, &target)
}

func IsReporting(err error) bool {
	var target *ReportingError
	return errors.As(err, &target)
}

func IsRelease(err error) bool {
	var target *ReleaseError
	return errors.As(err, &target)
}
