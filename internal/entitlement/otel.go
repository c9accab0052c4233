package entitlement

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds the entitlement counters exported through the meter provider.
type Metrics struct {
	Evaluations        metric.Int64Counter
	Transitions        metric.Int64Counter
	ActivationAttempts metric.Int64Counter
	ActivationSuccess  metric.Int64Counter
	ActivationFailures metric.Int64Counter
	AccessDecisions    metric.Int64Counter
	StoreErrors        metric.Int64Counter
	StoreRetries       metric.Int64Counter
	EvaluationDuration metric.Float64Histogram
}

// InitializeMetrics creates all entitlement metrics on meter.
func InitializeMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Evaluations, err = meter.Int64Counter(
		"entitlement_evaluations_total",
		metric.WithDescription("Total number of entitlement evaluations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluations counter: %w", err)
	}

	m.Transitions, err = meter.Int64Counter(
		"entitlement_transitions_total",
		metric.WithDescription("Total number of persisted entitlement transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transitions counter: %w", err)
	}

	m.ActivationAttempts, err = meter.Int64Counter(
		"license_activation_attempts_total",
		metric.WithDescription("Total number of license activation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation attempts counter: %w", err)
	}

	m.ActivationSuccess, err = meter.Int64Counter(
		"license_activation_success_total",
		metric.WithDescription("Total number of successful license activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation success counter: %w", err)
	}

	m.ActivationFailures, err = meter.Int64Counter(
		"license_activation_failures_total",
		metric.WithDescription("Total number of failed license activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation failures counter: %w", err)
	}

	m.AccessDecisions, err = meter.Int64Counter(
		"resource_access_decisions_total",
		metric.WithDescription("Total number of gated resource access decisions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create access decisions counter: %w", err)
	}

	m.StoreErrors, err = meter.Int64Counter(
		"entitlement_store_errors_total",
		metric.WithDescription("Total number of entitlement store failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store errors counter: %w", err)
	}

	m.StoreRetries, err = meter.Int64Counter(
		"entitlement_store_retries_total",
		metric.WithDescription("Total number of retried transition writes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store retries counter: %w", err)
	}

	m.EvaluationDuration, err = meter.Float64Histogram(
		"entitlement_evaluation_duration_seconds",
		metric.WithDescription("Read-through evaluation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluation duration histogram: %w", err)
	}

	return m, nil
}

// NoopMetrics returns metrics that record nothing.
func NoopMetrics() *Metrics {
	m, _ := InitializeMetrics(noop.NewMeterProvider().Meter("entitlement"))
	return m
}

// RecordTransitions counts every applied transition by kind.
func (m *Metrics) RecordTransitions(ctx context.Context, applied Transitions) {
	if m == nil {
		return
	}
	for _, kind := range applied.Kinds() {
		m.Transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("transition", kind)))
	}
}

// RecordDecision counts a gate decision.
func (m *Metrics) RecordDecision(ctx context.Context, d Decision) {
	if m == nil {
		return
	}
	m.AccessDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", string(d))))
}

// RecordStoreError counts a failed store operation.
func (m *Metrics) RecordStoreError(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.StoreErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}
