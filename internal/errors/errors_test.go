package errors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/render"
	"github.com/stretchr/testify/assert"
)

func TestAPIError_Error(t *testing.T) {
	assert.Equal(t, "Invalid request format", ErrInvalidRequest.Error())
	assert.Equal(t, "", (&APIError{}).Error())
}

func TestAPIError_Render(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	err := render.Render(rec, req, ErrServiceUnavailable)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "SERVICE_UNAVAILABLE")
}

func TestHelpers(t *testing.T) {
	tests := []struct {
		name      string
		err       *APIError
		status    int
		code      string
		hasDetail bool
	}{
		{"invalid request with error", InvalidRequestWithError(assert.AnError), http.StatusBadRequest, "INVALID_REQUEST", true},
		{"not found", NotFoundError("entitlement"), http.StatusNotFound, "NOT_FOUND", true},
		{"validation errors", NewValidationErrors([]ValidationError{{Field: "license_key", Message: "required"}}), http.StatusBadRequest, "VALIDATION_FAILED", true},
		{"plain", New(http.StatusTeapot, "TEAPOT", "short and stout"), http.StatusTeapot, "TEAPOT", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.StatusCode)
			assert.Equal(t, tt.code, tt.err.ErrorCode)
			assert.Equal(t, tt.hasDetail, tt.err.Details != nil)
		})
	}

	assert.Equal(t, "entitlement not found", NotFoundError("entitlement").Message)
}
