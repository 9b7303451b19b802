// Unified error handling for the G-code post-processor
//
// Copyright (C) 2026  Gcodepost Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors, the only fatal kind. Detected before any
	// input line is processed.
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// G-code stream conditions, never fatal to a run
	ErrGCodeParse    ErrorCode = "GCODE_PARSE"
	ErrStateTracking ErrorCode = "STATE_TRACKING"

	// Transform conditions, surfaced as warnings
	ErrTransformInvariant ErrorCode = "TRANSFORM_INVARIANT"
	ErrTransformUnknown   ErrorCode = "TRANSFORM_UNKNOWN"

	// I/O and remote errors from the outer layers
	ErrStreamIO  ErrorCode = "STREAM_IO"
	ErrMoonraker ErrorCode = "MOONRAKER"
)

// ProcessError is the unified error type for the post-processor
type ProcessError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Line is the input line number, when known (1-based, 0 if unset)
	Line int

	// Option is the configuration option name (if applicable)
	Option string

	// Err wraps the underlying error
	Err error
}

// Error implements the error interface
func (e *ProcessError) Error() string {
	switch {
	case e.Option != "":
		return fmt.Sprintf("[%s] option '%s': %s", e.Code, e.Option, e.Message)
	case e.Line > 0:
		return fmt.Sprintf("[%s] line %d: %s", e.Code, e.Line, e.Message)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying error
func (e *ProcessError) Unwrap() error {
	return e.Err
}

// SetLine sets the input line number
func (e *ProcessError) SetLine(line int) *ProcessError {
	e.Line = line
	return e
}

// SetOption sets the configuration option
func (e *ProcessError) SetOption(option string) *ProcessError {
	e.Option = option
	return e
}

// New creates a new ProcessError
func New(code ErrorCode, message string) *ProcessError {
	return &ProcessError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *ProcessError {
	return &ProcessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Configuration errors

// ConfigOptionError creates an error for a missing or unusable option
func ConfigOptionError(option, reason string) *ProcessError {
	return New(ErrConfigOption, reason).SetOption(option)
}

// ConfigValidationError creates an error for contradictory settings
func ConfigValidationError(reason string) *ProcessError {
	return New(ErrConfigValidation, reason)
}

// Stream conditions

// ParseWarning creates a non-fatal warning for an unparseable line
func ParseWarning(line int, text string) *ProcessError {
	return New(ErrGCodeParse, fmt.Sprintf("unparseable line passed through: %q", text)).SetLine(line)
}

// InvariantWarning creates a non-fatal warning for a transform invariant
// violation that was recovered by clamping
func InvariantWarning(line int, reason string) *ProcessError {
	return New(ErrTransformInvariant, reason).SetLine(line)
}

// UnknownTransformError creates an error for an unregistered transform name
func UnknownTransformError(name string, known []string) *ProcessError {
	return New(ErrTransformUnknown,
		fmt.Sprintf("unknown transform '%s' (available: %v)", name, known))
}

// StreamIOError creates an error for a line source/sink failure
func StreamIOError(op string, err error) *ProcessError {
	return Wrap(err, ErrStreamIO, fmt.Sprintf("%s failed", op))
}

// MoonrakerError creates an error for a printer API failure
func MoonrakerError(op string, err error) *ProcessError {
	return Wrap(err, ErrMoonraker, fmt.Sprintf("%s failed", op))
}

// Is checks if error matches given error code
func Is(err error, code ErrorCode) bool {
	if pe, ok := err.(*ProcessError); ok {
		return pe.Code == code
	}
	return false
}

// IsConfig checks if error is a configuration error (fatal)
func IsConfig(err error) bool {
	return Is(err, ErrConfigOption) ||
		Is(err, ErrConfigValidation)
}

// IsWarning checks if error is a recoverable stream condition
func IsWarning(err error) bool {
	return Is(err, ErrGCodeParse) ||
		Is(err, ErrStateTracking) ||
		Is(err, ErrTransformInvariant)
}
