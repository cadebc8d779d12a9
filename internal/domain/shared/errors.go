// Package shared contains common domain types, errors and events used across
// all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")

	// Aggregation errors
	ErrReferenceNotFound = errors.New("reference not found")
	ErrEmptyCohort       = errors.New("cohort has no ranking records")
	ErrStorageFailure    = errors.New("storage failure")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "grading", "ranking", "academic"
	Op      string // Operation that failed, e.g., "ResolveExam", "UpsertTermAverage"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// ReferenceNotFound builds the error returned when an exam, term, school
// year, classroom or grade code cannot be resolved.
func ReferenceNotFound(op, entity, code string) *DomainError {
	return NewDomainError("academic", op, ErrReferenceNotFound,
		fmt.Sprintf("%s %q not found", entity, code))
}

// StorageFailure wraps a driver error so callers can detect it with
// IsStorageFailure and decide whether to retry.
func StorageFailure(domain, op string, err error) *DomainError {
	return WrapError(domain, op, ErrStorageFailure, "storage operation failed", err)
}

// Score domain errors
var (
	ErrScoreOutOfRange = NewDomainError("grading", "Validate", ErrValueOutOfRange, "score must be between 0 and 10")
	ErrEmptyStudent    = NewDomainError("grading", "Validate", ErrEmptyValue, "student code is required")
	ErrEmptyExam       = NewDomainError("grading", "Validate", ErrEmptyValue, "exam code is required")
	ErrUnknownTier     = NewDomainError("grading", "ParseTier", ErrInvalidInput, "unknown performance tier")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrReferenceNotFound)
}

// IsReferenceNotFound checks if a reference lookup failed.
func IsReferenceNotFound(err error) bool {
	return errors.Is(err, ErrReferenceNotFound)
}

// IsEmptyCohort checks if the error reports an empty ranking cohort.
func IsEmptyCohort(err error) bool {
	return errors.Is(err, ErrEmptyCohort)
}

// IsStorageFailure checks if the error came from the storage layer.
func IsStorageFailure(err error) bool {
	return errors.Is(err, ErrStorageFailure)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsRetryable checks if the operation can be retried by the caller.
// Reference misses and validation errors never heal on their own.
func IsRetryable(err error) bool {
	return IsStorageFailure(err) && !IsReferenceNotFound(err)
}
