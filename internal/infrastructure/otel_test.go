package infrastructure

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"scriptgate/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOTelInitialization(t *testing.T) {
	providers, err := InitializeOTel(nil, testLogger())
	require.NoError(t, err)
	require.NotNil(t, providers)

	// Defaults: no trace exporter, prometheus metrics.
	assert.Nil(t, providers.TracerProvider)
	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.MeterProvider)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.PrometheusHTTP)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, providers.Shutdown(ctx))
}

func TestOTelConfiguration(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.TelemetryConfig
		wantErr     bool
		wantTracing bool
		wantMetrics bool
	}{
		{
			name:        "stdout traces and prometheus metrics",
			cfg:         config.TelemetryConfig{ServiceName: "t", TraceExporter: "stdout", MetricExporter: "prometheus"},
			wantTracing: true,
			wantMetrics: true,
		},
		{
			name: "everything disabled",
			cfg:  config.TelemetryConfig{ServiceName: "t", TraceExporter: "none", MetricExporter: "none"},
		},
		{
			name:    "unknown trace exporter",
			cfg:     config.TelemetryConfig{ServiceName: "t", TraceExporter: "zipkin", MetricExporter: "none"},
			wantErr: true,
		},
		{
			name:    "unknown metric exporter",
			cfg:     config.TelemetryConfig{ServiceName: "t", TraceExporter: "none", MetricExporter: "statsd"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			providers, err := InitializeOTel(OTelConfigFrom(tt.cfg), testLogger())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer providers.Shutdown(context.Background())

			assert.Equal(t, tt.wantTracing, providers.TracerProvider != nil)
			assert.Equal(t, tt.wantMetrics, providers.PrometheusHTTP != nil)
			assert.NotNil(t, providers.Tracer)
			assert.NotNil(t, providers.Meter)
		})
	}
}

func TestTraceCorrelation(t *testing.T) {
	cfg := OTelConfigFrom(config.TelemetryConfig{ServiceName: "t", TraceExporter: "stdout", MetricExporter: "none"})
	providers, err := InitializeOTel(cfg, testLogger())
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	ctx, span := providers.Tracer.Start(context.Background(), "test-operation")
	defer span.End()

	traceID := TraceIDFromContext(ctx)
	assert.NotEmpty(t, traceID)
	assert.Equal(t, span.SpanContext().TraceID().String(), traceID)

	AddSpanEvent(ctx, "test.event", attribute.String("k", "v"))
	RecordError(ctx, assert.AnError)
	assert.True(t, span.IsRecording())

	assert.Empty(t, TraceIDFromContext(context.Background()))
}

func TestHTTPMetricsExposedOnPrometheusEndpoint(t *testing.T) {
	providers, err := InitializeOTel(nil, testLogger())
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	metrics, err := CreateHTTPMetrics(providers.Meter)
	require.NoError(t, err)

	metrics.RequestsTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("route", "/healthz")))

	server := httptest.NewServer(providers.PrometheusHTTP)
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "http_requests_total")
}

func TestOTelInitialization_Twice(t *testing.T) {
	first, err := InitializeOTel(nil, testLogger())
	require.NoError(t, err)
	defer first.Shutdown(context.Background())

	second, err := InitializeOTel(nil, testLogger())
	require.NoError(t, err, "each initialization owns its registry")
	defer second.Shutdown(context.Background())
}
