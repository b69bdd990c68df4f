package state

import (
	"errors"
	"fmt"
)

// ErrorKind classifies restore failures so callers can branch on cause
type ErrorKind string

const (
	// KindNotFound indicates the state file does not exist
	KindNotFound ErrorKind = "not_found"
	// KindInvalidJson indicates the state file is not parseable JSON
	KindInvalidJson ErrorKind = "invalid_json"
	// KindInvalidSchema indicates the document does not match the state schema
	KindInvalidSchema ErrorKind = "invalid_schema"
)

// StateError wraps a state-file failure with its classification and path
type StateError struct {
	Kind ErrorKind // Failure classification
	Path string    // State file path
	Err  error     // Underlying error
}

// Error returns formatted error message
func (e *StateError) Error() string {
	return fmt.Sprintf("state file %s: %s: %v", e.Path, e.Kind, e.Err)
}

// Unwrap returns the underlying error
func (e *StateError) Unwrap() error {
	return e.Err
}

// NewStateError creates a new state error
func NewStateError(kind ErrorKind, path string, err error) *StateError {
	return &StateError{Kind: kind, Path: path, Err: err}
}

// IsNotFound reports whether err is a state error of kind NotFound.
func IsNotFound(err error) bool {
	return kindOf(err) == KindNotFound
}

// IsInvalidJson reports whether err is a state error of kind InvalidJson.
func IsInvalidJson(err error) bool {
	return kindOf(err) == KindInvalidJson
}

// IsInvalidSchema reports whether err is a state error of kind InvalidSchema.
func IsInvalidSchema(err error) bool {
	return kindOf(err) == KindInvalidSchema
}

func kindOf(err error) ErrorKind {
	var se *StateError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
