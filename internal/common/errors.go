package common

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel conditions. Every typed error below unwraps to exactly one of these,
// so callers can use errors.Is for the condition and errors.As for the details.
var (
	ErrDuplicateClient         = errors.New("duplicate client")
	ErrClientNotFound          = errors.New("client not found")
	ErrClientInUse             = errors.New("client has notification history")
	ErrDuplicateType           = errors.New("duplicate notification type")
	ErrInvalidPolicy           = errors.New("invalid rate limit policy")
	ErrUnknownNotificationType = errors.New("unknown notification type")
	ErrTypeNotFound            = errors.New("notification type not found")
	ErrTypeInUse               = errors.New("notification type has notification history")
	ErrRateLimitExceeded       = errors.New("rate limit exceeded")
	ErrRecordNotFound          = errors.New("notification record not found")
	ErrInvalidInput            = errors.New("invalid input")
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Resource string
	ID       string
	Err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id '%s' not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string, kind error) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id, Err: kind}
}

// ConflictError indicates a uniqueness or referential constraint was violated.
type ConflictError struct {
	Resource string
	Key      string
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s '%s': %s", e.Resource, e.Key, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// NewConflictError creates a new ConflictError.
func NewConflictError(resource, key string, kind error) *ConflictError {
	return &ConflictError{Resource: resource, Key: key, Err: kind}
}

// ValidationError indicates invalid input data.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	if e.Err == nil {
		return ErrInvalidInput
	}
	return e.Err
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// NewPolicyError creates a ValidationError for a rejected rate limit policy.
func NewPolicyError(message string) *ValidationError {
	return &ValidationError{Message: message, Err: ErrInvalidPolicy}
}

// RateLimitError indicates a client exhausted the policy of a notification type.
type RateLimitError struct {
	ClientID   string
	Type       string
	Max        int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: client '%s' reached %d '%s' notifications per %s",
		e.ClientID, e.Max, e.Type, e.Window)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }

// ProviderError indicates an external provider failure.
type ProviderError struct {
	Provider string
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error: %s", e.Provider, e.Message)
}

// NewProviderError creates a new ProviderError.
func NewProviderError(provider, message string) *ProviderError {
	return &ProviderError{Provider: provider, Message: message}
}
