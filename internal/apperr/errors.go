package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrConfiguration  = errors.New("configuration incomplete")
	ErrAuthentication = errors.New("authentication failed")
	ErrAuthorization  = errors.New("not authorized")
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("invalid input")
	ErrUpstream       = errors.New("upstream request failed")
)

// ConfigurationError lists the settings that could not be resolved.
type ConfigurationError struct {
	Service string
	Missing []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("%s is not configured", e.Service)
	}
	return fmt.Sprintf("%s is not configured: missing %s", e.Service, strings.Join(e.Missing, ", "))
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

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

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Validation builds a ValidationError for the given field.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFound wraps ErrNotFound with the kind and id that were looked up.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// Authorization wraps ErrAuthorization with a reason.
func Authorization(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrAuthorization)
}

// UpstreamError is a non-2xx answer from one of the remote services.
type UpstreamError struct {
	Service    string
	StatusCode int
	Code       string
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: http %d %s: %s", e.Service, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Service, e.StatusCode, e.Message)
}

func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrUpstream:
		return true
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrAuthentication:
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

// AuthenticationError reports rejected credentials at a remote service.
type AuthenticationError struct {
	Service string
	Cause   error
}

func (e *AuthenticationError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: authentication failed", e.Service)
	}
	return fmt.Sprintf("%s: authentication failed: %v", e.Service, e.Cause)
}

func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAuthentication
}

func (e *AuthenticationError) Unwrap() error {
	return e.Cause
}

// ItemError is the failure of a single item inside a batch operation.
type ItemError struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	Message string `json:"error"`
}

// PartialFailure reports per-item failures of a batch with at least
// one success or none.
type PartialFailure struct {
	Succeeded int
	Failed    []ItemError
}

func (e *PartialFailure) Error() string {
	if e.Succeeded == 0 {
		return fmt.Sprintf("all %d items failed", len(e.Failed))
	}
	return fmt.Sprintf("%d items failed, %d succeeded", len(e.Failed), e.Succeeded)
}

// Code returns the stable machine code for err.
func Code(err error) string {
	var partial *PartialFailure
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "bad_request"
	case errors.Is(err, ErrAuthorization):
		return "forbidden"
	case errors.Is(err, ErrConfiguration):
		return "not_configured"
	case errors.As(err, &partial):
		return "sync_failed"
	case errors.Is(err, ErrAuthentication):
		return "upstream_unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUpstream):
		return "upstream_error"
	default:
		return "internal_error"
	}
}

// HTTPStatus maps err to the status the API answers with.
func HTTPStatus(err error) int {
	var partial *PartialFailure
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, ErrConfiguration):
		return http.StatusServiceUnavailable
	case errors.As(err, &partial):
		return http.StatusBadGateway
	case errors.Is(err, ErrAuthentication):
		return http.StatusBadGateway
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
