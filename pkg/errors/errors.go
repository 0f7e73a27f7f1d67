package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jafarshop/webhookgw/internal/domain"
)

// ErrNotFound is returned when a referenced entity does not exist
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrUnauthorized is returned when a request cannot be authenticated.
// The message is deliberately generic so callers cannot tell an unknown
// store apart from a bad signature.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message == "" {
		return "unauthorized"
	}
	return e.Message
}

// ErrInvalidStateTransition is returned when an order cannot move to the requested status
type ErrInvalidStateTransition struct {
	From domain.OrderStatus
	To   domain.OrderStatus
}

func (e *ErrInvalidStateTransition) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

// ErrValidation is returned for payloads that are authentic but unusable
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// ErrTransient wraps an infrastructure failure the sender should retry
type ErrTransient struct {
	Op  string
	Err error
}

func (e *ErrTransient) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ErrTransient) Unwrap() error {
	return e.Err
}

// Transient wraps err as an ErrTransient, keeping nil as nil
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ErrTransient{Op: op, Err: err}
}

// IsBusiness reports whether err is a data-level error that must not
// trigger a sender retry.
func IsBusiness(err error) bool {
	if err == nil {
		return false
	}
	var notFound *ErrNotFound
	var validation *ErrValidation
	var transition *ErrInvalidStateTransition
	return stderrors.As(err, &notFound) ||
		stderrors.As(err, &validation) ||
		stderrors.As(err, &transition)
}

// IsTransient reports whether err is an infrastructure failure. Anything
// that is neither business nor unauthorized counts as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var transient *ErrTransient
	if stderrors.As(err, &transient) {
		return true
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return true
	}
	return !IsBusiness(err) && !IsUnauthorized(err)
}

// IsUnauthorized reports whether err is an ErrUnauthorized
func IsUnauthorized(err error) bool {
	var unauthorized *ErrUnauthorized
	return stderrors.As(err, &unauthorized)
}

// IsNotFound reports whether err is an ErrNotFound
func IsNotFound(err error) bool {
	var notFound *ErrNotFound
	return stderrors.As(err, &notFound)
}

// ErrAlreadyExists is returned when creating an entity whose key is taken
type ErrAlreadyExists struct {
	Resource string
	ID       string
}

func (e *ErrAlreadyExists) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Resource, e.ID)
}
