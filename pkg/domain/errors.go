package domain

import (
	"errors"
	"fmt"
)

// EntityErrorType classifies a per-entity error for clients.
type EntityErrorType string

// Entity error classifications carried in entity reports.
const (
	ErrInvalidLink        EntityErrorType = "INVALID_LINK"
	ErrInvalidPermissions EntityErrorType = "INVALID_PERMISSIONS"
	ErrInvalidProperty    EntityErrorType = "INVALID_PROPERTY"
	ErrInvalidType        EntityErrorType = "INVALID_TYPE"
	ErrInvalidValue       EntityErrorType = "INVALID_VALUE"
	ErrMissingProperty    EntityErrorType = "MISSING_PROPERTY"
	ErrNotFound           EntityErrorType = "NOT_FOUND"
	ErrNotUnique          EntityErrorType = "NOT_UNIQUE"
	ErrUncategorized      EntityErrorType = "ERROR"
)

// EntityError is one error attributed to a single submitted entity. Keys
// lists the document keys the error concerns.
type EntityError struct {
	Type    EntityErrorType `json:"type"`
	Keys    []string        `json:"keys"`
	Message string          `json:"message"`
}

func (e EntityError) Error() string { return e.Message }

// NewEntityError builds an entity error; a zero type is recorded as
// uncategorized, matching the wire contract that every error carries a
// classification.
func NewEntityError(t EntityErrorType, message string, keys ...string) EntityError {
	if t == "" {
		t = ErrUncategorized
	}
	if keys == nil {
		keys = []string{}
	}
	return EntityError{Type: t, Keys: keys, Message: message}
}

// TransactionalError is an error not attributable to a single entity; its
// presence aborts the batch. Type carries the same classification taxonomy
// as entity errors so callers can branch without parsing the message.
type TransactionalError struct {
	Type    EntityErrorType `json:"type"`
	Message string          `json:"message"`
}

func (e TransactionalError) Error() string { return e.Message }

// NewTransactionalError builds a transactional error; a zero type is
// recorded as uncategorized.
func NewTransactionalError(t EntityErrorType, message string) TransactionalError {
	if t == "" {
		t = ErrUncategorized
	}
	return TransactionalError{Type: t, Message: message}
}

// FatalError wraps faults (storage unavailable, resolver uninitialized)
// that must surface to the service layer instead of the response document.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as a FatalError unless it already is one.
func Fatal(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return err
	}
	return &FatalError{Op: op, Err: err}
}
