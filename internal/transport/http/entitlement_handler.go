package http

import (
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "scriptgate/internal/errors"
	"scriptgate/internal/middleware"
	"scriptgate/internal/services"
	api "scriptgate/pkg/contracts/api/v1"
)

// ActivationRequest is an alias to the canonical contract type
type ActivationRequest = api.ActivationRequest

// EntitlementHandler serves the status and activation endpoints.
type EntitlementHandler struct {
	service      services.EntitlementService
	validate     *validator.Validate
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewEntitlementHandler creates a new entitlement handler
func NewEntitlementHandler(service services.EntitlementService, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *EntitlementHandler {
	return &EntitlementHandler{
		service:      service,
		validate:     newValidator(),
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "entitlement")),
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Routes returns a chi router for entitlement endpoints
func (h *EntitlementHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.GetStatus)
	r.With(middleware.ContentTypeValidator("application/json")).Post("/activate", h.Activate)
	return r
}

// GetStatus handles GET /api/entitlement/status
func (h *EntitlementHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status, err := h.service.GetStatus(ctx, middleware.UserID(ctx))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, status)
}

// Activate handles POST /api/entitlement/activate
func (h *EntitlementHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ActivationRequest
	if err := render.Decode(r, &req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode activation request",
			slog.String("error", err.Error()))
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = middleware.UserID(ctx)
	}

	receipt, err := h.service.Activate(ctx, userID, req.LicenseKey)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, receipt)
}
