package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every typed error below matches exactly one of these with
// errors.Is, so callers can branch on the kind without caring about details.
var (
	ErrValidation         = errors.New("validation failed")
	ErrAuthentication     = errors.New("not authenticated")
	ErrAuthorization      = errors.New("not authorized")
	ErrState              = errors.New("illegal state transition")
	ErrNotFound           = errors.New("not found")
	ErrGatewayRejected    = errors.New("payment gateway rejected the request")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrMethodNotAllowed   = errors.New("method not allowed")
)

// ValidationError reports bad user input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// AuthenticationError reports missing or wrong credentials.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string { return e.Reason }

func (e *AuthenticationError) Is(target error) bool { return target == ErrAuthentication }

// AuthorizationError reports a missing capability or an attempt at
// self-dealing.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string { return e.Reason }

func (e *AuthorizationError) Is(target error) bool { return target == ErrAuthorization }

// StateError reports a transition that is not allowed from the current state.
type StateError struct {
	Entity  string
	ID      string
	Current string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %s is already %s", e.Entity, e.ID, e.Current)
}

func (e *StateError) Is(target error) bool { return target == ErrState }

// NotFoundError reports an unknown entity id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// GatewayRejected reports a synchronous decline from the payment provider.
type GatewayRejected struct {
	Reason string
}

func (e *GatewayRejected) Error() string {
	return fmt.Sprintf("payment request rejected: %s", e.Reason)
}

func (e *GatewayRejected) Is(target error) bool { return target == ErrGatewayRejected }

// GatewayUnavailable wraps a transport failure talking to the provider.
type GatewayUnavailable struct {
	Err error
}

func (e *GatewayUnavailable) Error() string {
	return fmt.Sprintf("payment gateway unavailable: %v", e.Err)
}

func (e *GatewayUnavailable) Is(target error) bool { return target == ErrGatewayUnavailable }

func (e *GatewayUnavailable) Unwrap() error { return e.Err }
