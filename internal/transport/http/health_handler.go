package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apierrors "scriptgate/internal/errors"
	"scriptgate/internal/services"
)

// Banner is the body of GET /.
const Banner = "🚀 Extension backend is running!"

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	service *services.HealthService
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(service *services.HealthService, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// Root handles GET /
func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	render.PlainText(w, r, Banner)
}

// HealthCheck handles GET /healthz
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"success": true,
		"message": "Service is healthy ✅",
	})
}

// ReadinessCheck handles GET /healthz/ready
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	status, ready := h.service.ReadinessCheck(r.Context())
	if !ready {
		apierrors.WriteProblem(w, apierrors.NewProblemDetails(
			http.StatusServiceUnavailable,
			apierrors.TypeServiceDown,
			"Service Not Ready",
			"One or more dependencies are not ready",
			r.URL.Path,
		).WithExtension("services", status.Services))
		return
	}
	render.JSON(w, r, status)
}

// LivenessCheck handles GET /healthz/live
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.LivenessCheck(r.Context()))
}

// Version handles GET /api/version
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Version())
}
