package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
)

// ErrorCategory groups failures by how the risk plane reacts to them
type ErrorCategory string

const (
	// Quote, submit or poll calls failed; retried, then fail closed
	CategoryConnectivity ErrorCategory = "CONNECTIVITY"
	// An ordered pre-trade check rejected the signal
	CategoryValidation ErrorCategory = "VALIDATION"
	// Missing parameter path or unknown profile; resolved with a default
	CategoryConfiguration ErrorCategory = "CONFIGURATION"
	// State store write failed; in-memory state stays authoritative
	CategoryPersistence ErrorCategory = "PERSISTENCE"
	CategoryFatal       ErrorCategory = "FATAL"
)

// Sentinel causes used across packages.
var (
	ErrSlippageExceeded = stderrors.New("slippage exceeds threshold")
	ErrRetriesExhausted = stderrors.New("retries exhausted")
	ErrMonitorTimeout   = stderrors.New("order monitoring timed out")
	ErrUnknownProfile   = stderrors.New("unknown risk profile")
	ErrInvalidPath      = stderrors.New("invalid parameter path")
	ErrOrderNotFound    = stderrors.New("order not found")
)

// RiskError represents a categorized error with context
type RiskError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Retryable  bool
}

// Error implements the error interface
func (e *RiskError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *RiskError) Unwrap() error {
	return e.Underlying
}

// New creates a categorized error without an underlying cause
func New(category ErrorCategory, component, operation, message string) *RiskError {
	return &RiskError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Retryable: category == CategoryConnectivity,
	}
}

// Wrap wraps an existing error with category and context
func Wrap(err error, category ErrorCategory, component, operation string) *RiskError {
	if err == nil {
		return nil
	}
	return &RiskError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Retryable:  category == CategoryConnectivity,
	}
}

// WithRetryable sets the retryable flag
func (e *RiskError) WithRetryable(retryable bool) *RiskError {
	e.Retryable = retryable
	return e
}

// NewConnectivityError wraps a collaborator call failure
func NewConnectivityError(component, operation string, err error) *RiskError {
	return Wrap(err, CategoryConnectivity, component, operation)
}

// NewValidationError reports a rejected pre-trade check
func NewValidationError(component, operation, message string) *RiskError {
	return New(CategoryValidation, component, operation, message)
}

// NewPersistenceError wraps a state store failure
func NewPersistenceError(component, operation string, err error) *RiskError {
	return Wrap(err, CategoryPersistence, component, operation)
}

// NewConfigurationError reports a configuration gap
func NewConfigurationError(component, operation, message string) *RiskError {
	return New(CategoryConfiguration, component, operation, message)
}

// Temporary is implemented by collaborator errors that know whether they are transient.
type Temporary interface {
	Temporary() bool
}

// Categorize attempts to categorize a generic error
func Categorize(err error, component, operation string) *RiskError {
	if err == nil {
		return nil
	}

	var riskErr *RiskError
	if stderrors.As(err, &riskErr) {
		return riskErr
	}

	if stderrors.Is(err, context.Canceled) {
		return Wrap(err, CategoryFatal, component, operation)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return Wrap(err, CategoryConnectivity, component, operation)
	}

	var tmp Temporary
	if stderrors.As(err, &tmp) {
		return Wrap(err, CategoryConnectivity, component, operation).WithRetryable(tmp.Temporary())
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return Wrap(err, CategoryConnectivity, component, operation)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection"),
		strings.Contains(msg, "network"), strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "unavailable"):
		return Wrap(err, CategoryConnectivity, component, operation)
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "insufficient"):
		return Wrap(err, CategoryValidation, component, operation)
	}

	// Unknown collaborator failures are treated as transient.
	return Wrap(err, CategoryConnectivity, component, operation)
}

// IsRetryable reports whether err is categorized as retryable.
func IsRetryable(err error) bool {
	var riskErr *RiskError
	if stderrors.As(err, &riskErr) {
		return riskErr.Retryable
	}
	return false
}

// IsCategory reports whether err carries the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var riskErr *RiskError
	if stderrors.As(err, &riskErr) {
		return riskErr.Category == category
	}
	return false
}

// Is and As re-export the standard helpers so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }
