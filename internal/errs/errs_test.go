package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExternalAPIError(t *testing.T) {
	err := &ExternalAPIError{Op: "create presentation", StatusCode: 500, Body: `{"error":"boom"}`}

	assert.Equal(t, `failed to create presentation: {"error":"boom"}`, err.Error())
	assert.True(t, errors.Is(err, ErrExternalAPI))
	assert.True(t, errors.Is(fmt.Errorf("wrapped: %w", err), ErrExternalAPI))

	var apiErr *ExternalAPIError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &apiErr))
	assert.Equal(t, 500, apiErr.StatusCode)
}

func TestStatus(t *testing.T) {
	apiErr := &ExternalAPIError{Op: "get presentation", StatusCode: 403, Body: "denied"}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"unauthenticated", fmt.Errorf("%w: no identity", ErrUnauthenticated), http.StatusUnauthorized},
		{"unauthorized", ErrUnauthorized, http.StatusForbidden},
		{"not found", fmt.Errorf("%w: deck d1", ErrNotFound), http.StatusNotFound},
		{"invalid argument", ErrInvalidArgument, http.StatusBadRequest},
		{"invalid presentation id", ErrInvalidPresentationID, http.StatusBadRequest},
		{"external auth required", ErrExternalAuthRequired, http.StatusPreconditionFailed},
		{"deck not connected", ErrDeckNotConnected, http.StatusConflict},
		{"access denied wins over external api", fmt.Errorf("%w: %w", ErrAccessDenied, apiErr), http.StatusForbidden},
		{"presentation not found", fmt.Errorf("%w: %w", ErrPresentationNotFound, apiErr), http.StatusNotFound},
		{"external api", apiErr, http.StatusBadGateway},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Status(tt.err))
		})
	}
}

func TestCode(t *testing.T) {
	assert.Equal(t, "", Code(nil))
	assert.Equal(t, "EXTERNAL_AUTH_REQUIRED", Code(fmt.Errorf("sync: %w", ErrExternalAuthRequired)))
	assert.Equal(t, "ACCESS_DENIED", Code(fmt.Errorf("%w: %w", ErrAccessDenied, &ExternalAPIError{StatusCode: 403})))
	assert.Equal(t, "INTERNAL", Code(errors.New("x")))
}
