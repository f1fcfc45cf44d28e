// Package errs defines the error kinds surfaced to API callers.
//
// Every failure is one of the sentinel kinds below, wrapped with context via
// fmt.Errorf("%w: ..."). Callers test kinds with errors.Is and transports map
// them to a status code with Status.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel error kinds.
var (
	ErrUnauthenticated       = errors.New("not authenticated")
	ErrUnauthorized          = errors.New("not authorized")
	ErrNotFound              = errors.New("not found")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrExternalAuthRequired  = errors.New("google authentication required, connect your Google account")
	ErrDeckNotConnected      = errors.New("deck is not connected to a Google Slides presentation")
	ErrExternalAPI           = errors.New("google slides API error")
	ErrAccessDenied          = errors.New("no access to this presentation, make sure you have edit permissions")
	ErrPresentationNotFound  = errors.New("presentation not found, check the presentation ID or URL")
	ErrInvalidPresentationID = errors.New("invalid Google Slides URL or presentation ID")
)

// ExternalAPIError is a non-success response from the Google APIs.
type ExternalAPIError struct {
	Op         string
	StatusCode int
	Body       string
}

// Error includes the raw response body so callers can show it.
func (e *ExternalAPIError) Error() string {
	return fmt.Sprintf("failed to %s: %s", e.Op, e.Body)
}

// Is makes errors.Is(err, ErrExternalAPI) match any ExternalAPIError.
func (e *ExternalAPIError) Is(target error) bool {
	return target == ErrExternalAPI
}

// Code returns a stable machine-readable name for err's kind.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return "UNAUTHENTICATED"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrExternalAuthRequired):
		return "EXTERNAL_AUTH_REQUIRED"
	case errors.Is(err, ErrAccessDenied):
		return "ACCESS_DENIED"
	case errors.Is(err, ErrPresentationNotFound):
		return "PRESENTATION_NOT_FOUND"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrInvalidPresentationID):
		return "INVALID_ARGUMENT"
	case errors.Is(err, ErrDeckNotConnected):
		return "DECK_NOT_CONNECTED"
	case errors.Is(err, ErrExternalAPI):
		return "EXTERNAL_API_ERROR"
	default:
		return "INTERNAL"
	}
}

// Status maps err's kind to an HTTP status code.
func Status(err error) int {
	switch Code(err) {
	case "":
		return http.StatusOK
	case "UNAUTHENTICATED":
		return http.StatusUnauthorized
	case "UNAUTHORIZED", "ACCESS_DENIED":
		return http.StatusForbidden
	case "NOT_FOUND", "PRESENTATION_NOT_FOUND":
		return http.StatusNotFound
	case "INVALID_ARGUMENT":
		return http.StatusBadRequest
	case "EXTERNAL_AUTH_REQUIRED":
		return http.StatusPreconditionFailed
	case "DECK_NOT_CONNECTED":
		return http.StatusConflict
	case "EXTERNAL_API_ERROR":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
