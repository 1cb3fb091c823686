// Package domain defines the core records, ports, and errors shared by the
// content store, the engine session, and the worker protocol.
package domain

import (
	"errors"
	"fmt"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate key).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrorKind classifies failures surfaced by the worker as error responses.
type ErrorKind string

// Error kinds reported on the wire in the error response code field.
const (
	KindMissingKey     ErrorKind = "MissingKey"
	KindFileNotFound   ErrorKind = "FileNotFound"
	KindEngineNotReady ErrorKind = "EngineNotReady"
	KindUnknownCommand ErrorKind = "UnknownCommand"
	KindEngineFailure  ErrorKind = "EngineFailure"
	KindInternal       ErrorKind = "Internal"
)

// Sentinels for errors.Is matching against a CommandError of the same kind.
var (
	ErrMissingKey     = &CommandError{Kind: KindMissingKey}
	ErrFileNotFound   = &CommandError{Kind: KindFileNotFound}
	ErrEngineNotReady = &CommandError{Kind: KindEngineNotReady}
	ErrUnknownCommand = &CommandError{Kind: KindUnknownCommand}
	ErrEngineFailure  = &CommandError{Kind: KindEngineFailure}
)

// CommandError is a classified failure raised while handling a command.
type CommandError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewCommandError creates a CommandError with a formatted message.
func NewCommandError(kind ErrorKind, format string, args ...interface{}) *CommandError {
	return &CommandError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapEngineError classifies err as an EngineFailure unless it is already
// a CommandError.
func WrapEngineError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CommandError
	if errors.As(err, &ce) {
		return err
	}
	return &CommandError{Kind: KindEngineFailure, Message: op, Err: err}
}

func (e *CommandError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *CommandError) Unwrap() error { return e.Err }

// Is reports a match when target is a CommandError of the same kind.
func (e *CommandError) Is(target error) bool {
	t, ok := target.(*CommandError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first CommandError in err's chain, or
// KindInternal when err carries no classification.
func KindOf(err error) ErrorKind {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}
