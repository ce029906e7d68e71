package app

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAuthRequired = errors.New("auth_required")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad_request")
	ErrNotFound     = errors.New("not_found")

	// ErrEmptyInput is returned when a summarize request carries no documents.
	ErrEmptyInput = errors.New("No documents provided")
	// ErrDetectorFailure is returned when injection detection fails in closed mode.
	ErrDetectorFailure = errors.New("detector_failure")
	// ErrProviderFailure wraps every completion provider error, timeout or cancellation.
	ErrProviderFailure = errors.New("provider_error")
	ErrInvalidPolicy   = errors.New("invalid_policy")

	// ErrInvalidCredentials must not reveal whether the username exists.
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrUsernameTaken      = errors.New("username_taken")
	ErrInvalidKey         = errors.New("invalid_key")
	ErrKeyUsed            = errors.New("key_used")
	ErrCannotDeleteSelf   = errors.New("cannot_delete_self")
)

// QuotaExceededError reports an exhausted daily summarize budget.
type QuotaExceededError struct {
	Limit int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily summarize quota of %d exhausted", e.Limit)
}

// ModelNotAllowedError reports a model selection outside the enabled catalog.
type ModelNotAllowedError struct {
	Model   string
	Allowed []string
}

func (e *ModelNotAllowedError) Error() string {
	return fmt.Sprintf("model %q not allowed (allowed: %s)", e.Model, strings.Join(e.Allowed, ", "))
}
