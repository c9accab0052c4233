package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apierrors "scriptgate/internal/errors"
	"scriptgate/internal/middleware"
	"scriptgate/internal/services"
)

const defaultScriptContentType = "application/javascript"

// ResourceConfig describes the upstream the gated script is fetched from.
type ResourceConfig struct {
	UpstreamURL  string
	FetchTimeout time.Duration
	MaxBytes     int64
	Client       *http.Client
}

// ResourceHandler serves the gated script. The upstream is contacted only
// after an ALLOW decision.
type ResourceHandler struct {
	service      services.EntitlementService
	cfg          ResourceConfig
	tracer       trace.Tracer
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewResourceHandler creates the gated resource handler
func NewResourceHandler(service services.EntitlementService, cfg ResourceConfig, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *ResourceHandler {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 5 << 20
	}

	return &ResourceHandler{
		service:      service,
		cfg:          cfg,
		tracer:       otel.Tracer("resource-handler"),
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "resource")),
	}
}

// GetScript handles GET /api/script
func (h *ResourceHandler) GetScript(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	decision, err := h.service.AuthorizeResourceAccess(ctx, middleware.UserID(ctx))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	if !decision.Allowed() {
		apierrors.WriteProblem(w, apierrors.AccessDenied(r.URL.Path))
		return
	}

	if h.cfg.UpstreamURL == "" {
		h.logger.ErrorContext(ctx, "resource upstream not configured")
		apierrors.WriteProblem(w, apierrors.NewProblemDetails(
			http.StatusServiceUnavailable,
			apierrors.TypeResourceMissing,
			"Resource Unavailable",
			"The gated resource is not configured on this server.",
			r.URL.Path,
		))
		return
	}

	body, contentType, err := h.fetch(ctx)
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.NewUpstreamError("failed to fetch the gated resource", err))
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// fetch reads the whole upstream body so a failure midway still yields a
// clean error response.
func (h *ResourceHandler) fetch(ctx context.Context) ([]byte, string, error) {
	ctx, span := h.tracer.Start(ctx, "resource.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("upstream.url", h.cfg.UpstreamURL)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, h.cfg.FetchTimeout)
	defer cancel()

	body, contentType, err := h.doFetch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.WarnContext(ctx, "upstream fetch failed",
			slog.String("upstream", h.cfg.UpstreamURL),
			slog.String("error", err.Error()))
		return nil, "", err
	}

	span.SetAttributes(attribute.Int("response.size", len(body)))
	return body, contentType, nil
}

func (h *ResourceHandler) doFetch(ctx context.Context) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.UpstreamURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build upstream request: %w", err)
	}

	resp, err := h.cfg.Client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(resp.Body, h.cfg.MaxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read upstream body: %w", err)
	}
	if n > h.cfg.MaxBytes {
		return nil, "", fmt.Errorf("upstream body exceeds %d bytes", h.cfg.MaxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultScriptContentType
	}
	return buf.Bytes(), contentType, nil
}
