package yodeck

import (
	"errors"
	"fmt"
)

// Error kinds for remote API failures. Callers branch on these with
// errors.Is / KindOf instead of inspecting HTTP status codes.
const (
	KindAuthInvalid   = "AUTH_INVALID"
	KindAuthError     = "AUTH_ERROR"
	KindNotFound      = "NOT_FOUND"
	KindAPIError      = "API_ERROR"
	KindProtocolError = "PROTOCOL_ERROR"
)

// APIError is the structured failure for any remote call. Body is
// truncated, it exists for diagnostics only.
type APIError struct {
	Kind       string
	StatusCode int
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("yodeck: %s (%d) %s", e.Kind, e.StatusCode, e.Path)
	}
	return fmt.Sprintf("yodeck: %s (%d) %s: %s", e.Kind, e.StatusCode, e.Path, e.Body)
}

// Retryable reports whether the caller may usefully retry the request.
// Auth failures are configuration problems, retrying them only hides
// the misconfiguration; a vanished object needs re-provisioning, not a
// retry.
func (e *APIError) Retryable() bool {
	return e.Kind == KindAPIError || e.Kind == KindProtocolError
}

// KindOf extracts the error kind from err, or "" if err is not an APIError.
func KindOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsNotFound reports whether err is a remote 404.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
