package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"

	apierrors "scriptgate/internal/errors"
	"scriptgate/internal/middleware"
	"scriptgate/internal/services"
)

type mockEntitlementService struct {
	mock.Mock
}

func (m *mockEntitlementService) GetStatus(ctx context.Context, userID string) (*services.StatusResponse, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.StatusResponse), args.Error(1)
}

func (m *mockEntitlementService) Activate(ctx context.Context, userID, licenseKey string) (*services.ActivationResponse, error) {
	args := m.Called(ctx, userID, licenseKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ActivationResponse), args.Error(1)
}

func (m *mockEntitlementService) AuthorizeResourceAccess(ctx context.Context, userID string) (*services.AccessDecision, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.AccessDecision), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testErrorHandler() *apierrors.ErrorHandler {
	return apierrors.NewErrorHandler(testLogger(), false)
}

// withIdentity mounts h behind the identity middleware the server uses.
func withIdentity(mount func(r chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Identity)
	mount(r)
	return r
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode problem body %q: %v", rec.Body.String(), err)
	}
	return body
}
