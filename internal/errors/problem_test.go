package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProblemDetails_MarshalJSON(t *testing.T) {
	pd := NewProblemDetails(http.StatusServiceUnavailable, TypeStoreUnavailable, "Store Unavailable", "", "/x").
		WithExtension("retry_after", 1).
		WithExtension("status", 999)

	data, err := json.Marshal(pd)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &body))

	assert.Equal(t, TypeStoreUnavailable, body["type"])
	assert.Equal(t, float64(503), body["status"], "extensions cannot override standard members")
	assert.Equal(t, float64(1), body["retry_after"])
	assert.Equal(t, "/x", body["instance"])
	assert.NotContains(t, body, "detail")
}

func TestWriteProblem(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteProblem(rec, NewProblemDetails(http.StatusBadRequest, TypeValidation, "Validation Failed", "bad", "/a"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ContentTypeProblem, rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"type":"/errors/validation","title":"Validation Failed","status":400,"detail":"bad","instance":"/a"}`, rec.Body.String())
}

func TestAccessDenied_IsDeterministic(t *testing.T) {
	first := httptest.NewRecorder()
	second := httptest.NewRecorder()

	WriteProblem(first, AccessDenied("/api/script"))
	WriteProblem(second, AccessDenied("/api/script"))

	assert.Equal(t, http.StatusForbidden, first.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.NotContains(t, first.Body.String(), "trace_id")
	assert.Contains(t, first.Body.String(), TypeAccessDenied)
}
