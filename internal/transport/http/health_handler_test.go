package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "scriptgate/internal/errors"
	"scriptgate/internal/services"
	"scriptgate/internal/shared/testutil"
	memorystore "scriptgate/internal/storage/memory"
)

func TestHealthHandler_Probes(t *testing.T) {
	handler := NewHealthHandler(services.NewHealthService("1.2.3", "memory", memorystore.New(), nil, testLogger()), testLogger())

	tests := []struct {
		name        string
		handlerFunc http.HandlerFunc
		wantStatus  int
		check       func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		{
			name:        "banner",
			handlerFunc: handler.Root,
			wantStatus:  http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Equal(t, Banner, rec.Body.String())
				assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
			},
		},
		{
			name:        "healthz",
			handlerFunc: handler.HealthCheck,
			wantStatus:  http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.JSONEq(t, `{"success":true,"message":"Service is healthy ✅"}`, rec.Body.String())
			},
		},
		{
			name:        "ready",
			handlerFunc: handler.ReadinessCheck,
			wantStatus:  http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				var body map[string]interface{}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, "ready", body["status"])
			},
		},
		{
			name:        "live",
			handlerFunc: handler.LivenessCheck,
			wantStatus:  http.StatusOK,
		},
		{
			name:        "version",
			handlerFunc: handler.Version,
			wantStatus:  http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				var body map[string]interface{}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, "1.2.3", body["version"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handlerFunc(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.check != nil {
				tt.check(t, rec)
			}
		})
	}
}

func TestHealthHandler_NotReady(t *testing.T) {
	store := testutil.NewFlakyStore(memorystore.New())
	store.FailNext(testutil.OpGetOrCreate, -1)
	handler := NewHealthHandler(services.NewHealthService("1.2.3", "redis", store, nil, testLogger()), testLogger())

	rec := httptest.NewRecorder()
	handler.ReadinessCheck(rec, httptest.NewRequest(http.MethodGet, "/healthz/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, apierrors.TypeServiceDown, decodeProblem(t, rec)["type"])
}
