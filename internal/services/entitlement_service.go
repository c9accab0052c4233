package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"scriptgate/internal/config"
	"scriptgate/internal/entitlement"
	apierrors "scriptgate/internal/errors"
	"scriptgate/internal/infrastructure"
	"scriptgate/internal/security"
)

// EntitlementService is the request-level API over the entitlement state
// machine. Every call evaluates expiry against the current clock and
// persists pending transitions before answering.
type EntitlementService interface {
	GetStatus(ctx context.Context, userID string) (*StatusResponse, error)
	Activate(ctx context.Context, userID, licenseKey string) (*ActivationResponse, error)
	AuthorizeResourceAccess(ctx context.Context, userID string) (*AccessDecision, error)
}

// StatusResponse reports the evaluated entitlement of one identity. All
// instants are Unix milliseconds.
type StatusResponse struct {
	UserID             string               `json:"user_id"`
	TrialExpired       bool                 `json:"trial_expired"`
	LicenseActive      bool                 `json:"license_active"`
	TrialStart         int64                `json:"trial_start"`
	TrialEndsAt        int64                `json:"trial_ends_at"`
	TrialEndedLogged   bool                 `json:"trial_ended_logged"`
	LicenseActivatedAt *int64               `json:"license_activated_at,omitempty"`
	LicenseExpiresAt   *int64               `json:"license_expires_at,omitempty"`
	LicenseEndedLogged bool                 `json:"license_ended_logged"`
	State              entitlement.State    `json:"state"`
	Decision           entitlement.Decision `json:"decision"`
	ServerTime         int64                `json:"server_time"`
}

// ActivationResponse is the receipt of a successful activation.
type ActivationResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	UserID      string `json:"user_id"`
	ActivatedAt int64  `json:"activated_at"`
	ExpiresAt   int64  `json:"expires_at"`
}

// AccessDecision is the gate outcome for one resource request.
type AccessDecision struct {
	UserID        string               `json:"user_id"`
	Decision      entitlement.Decision `json:"decision"`
	TrialExpired  bool                 `json:"trial_expired"`
	LicenseActive bool                 `json:"license_active"`
	ServerTime    int64                `json:"server_time"`
}

// Allowed reports whether the resource may be delivered.
func (d *AccessDecision) Allowed() bool {
	return d != nil && d.Decision.Allowed()
}

// EntitlementDeps are the collaborators of the entitlement service. Store and
// Activator are required; everything else has a working default.
type EntitlementDeps struct {
	Store         entitlement.Store
	Engine        *entitlement.Engine
	Activator     *entitlement.Activator
	Clock         entitlement.Clock
	Publisher     entitlement.EventPublisher
	Metrics       *entitlement.Metrics
	Tracer        trace.Tracer
	Fingerprinter *security.KeyFingerprinter
	Retry         config.RetryConfig
	Logger        *slog.Logger
}

type entitlementService struct {
	store         entitlement.Store
	engine        *entitlement.Engine
	activator     *entitlement.Activator
	clock         entitlement.Clock
	publisher     entitlement.EventPublisher
	metrics       *entitlement.Metrics
	tracer        trace.Tracer
	fingerprinter *security.KeyFingerprinter
	retry         config.RetryConfig
	logger        *slog.Logger
}

// NewEntitlementService wires an EntitlementService.
func NewEntitlementService(deps EntitlementDeps) (EntitlementService, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("entitlement service: store is required")
	}
	if deps.Engine == nil {
		deps.Engine = entitlement.NewEngine(entitlement.DefaultWindow, entitlement.DefaultWindow)
	}
	if deps.Activator == nil {
		return nil, fmt.Errorf("entitlement service: activator is required")
	}
	if deps.Clock == nil {
		deps.Clock = entitlement.SystemClock{}
	}
	if deps.Publisher == nil {
		deps.Publisher = entitlement.NopPublisher{}
	}
	if deps.Metrics == nil {
		deps.Metrics = entitlement.NoopMetrics()
	}
	if deps.Tracer == nil {
		deps.Tracer = tracenoop.NewTracerProvider().Tracer(infrastructure.MeterName)
	}
	if deps.Fingerprinter == nil {
		fp, err := security.NewKeyFingerprinter("")
		if err != nil {
			return nil, err
		}
		deps.Fingerprinter = fp
	}
	if deps.Retry.MaxAttempts < 1 {
		deps.Retry = config.Default().Store.Retry
	}
	if deps.Logger == nil {
		deps.Logger = infrastructure.GetLogger()
	}

	return &entitlementService{
		store:         deps.Store,
		engine:        deps.Engine,
		activator:     deps.Activator,
		clock:         deps.Clock,
		publisher:     deps.Publisher,
		metrics:       deps.Metrics,
		tracer:        deps.Tracer,
		fingerprinter: deps.Fingerprinter,
		retry:         deps.Retry,
		logger:        deps.Logger.With(slog.String("component", "entitlement")),
	}, nil
}

// snapshot is one evaluated record at one instant.
type snapshot struct {
	record entitlement.Entitlement
	eval   entitlement.Evaluation
	now    time.Time
}

// GetStatus evaluates userID and reports the resulting state.
func (s *entitlementService) GetStatus(ctx context.Context, userID string) (*StatusResponse, error) {
	ctx, span := s.tracer.Start(ctx, "entitlement.GetStatus")
	defer span.End()

	snap, err := s.evaluate(ctx, userID, "status")
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	rec := snap.record
	resp := &StatusResponse{
		UserID:             rec.UserID,
		TrialExpired:       snap.eval.TrialExpired,
		LicenseActive:      snap.eval.LicenseActive,
		TrialStart:         entitlement.Millis(rec.TrialStart),
		TrialEndsAt:        entitlement.Millis(s.engine.TrialEndsAt(rec)),
		TrialEndedLogged:   rec.TrialEndedLogged,
		LicenseEndedLogged: rec.LicenseEndedLogged,
		State:              entitlement.StateOf(rec, snap.eval),
		Decision:           entitlement.Decide(snap.eval.TrialExpired, snap.eval.LicenseActive),
		ServerTime:         entitlement.Millis(snap.now),
	}
	if rec.LicenseActivatedAt != nil {
		at := entitlement.Millis(*rec.LicenseActivatedAt)
		resp.LicenseActivatedAt = &at
	}
	if expires, ok := s.engine.LicenseExpiresAt(rec); ok {
		ms := entitlement.Millis(expires)
		resp.LicenseExpiresAt = &ms
	}

	span.SetAttributes(attribute.String("entitlement.state", string(resp.State)))
	return resp, nil
}

// Activate validates licenseKey and starts a new license window for userID.
func (s *entitlementService) Activate(ctx context.Context, userID, licenseKey string) (*ActivationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "entitlement.Activate")
	defer span.End()

	logger := s.actionLogger("activate")

	id, err := cleanIdentity(userID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	key, err := security.CleanLicenseKey(licenseKey)
	if err != nil {
		err = apierrors.NewValidationError(err.Error())
		recordSpanError(span, err)
		return nil, err
	}

	keyAttrs := []any{
		slog.String("user_id", id),
		slog.String("license_key", security.MaskLicenseKey(key)),
		slog.String("key_fingerprint", s.fingerprinter.Fingerprint(key)),
	}

	s.metrics.ActivationAttempts.Add(ctx, 1)
	now := s.clock.Now()

	receipt, rec, err := s.activator.Activate(ctx, id, key, now)
	switch {
	case errors.Is(err, entitlement.ErrInvalidKey):
		s.metrics.ActivationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invalid_key")))
		logger.WarnContext(ctx, "license activation rejected",
			append(keyAttrs, slog.String("result", "rejected"))...)
		recordSpanError(span, err)
		return nil, err

	case err != nil:
		s.metrics.ActivationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "store_unavailable")))
		s.metrics.RecordStoreError(ctx, "activate")
		logger.ErrorContext(ctx, "license activation failed",
			append(keyAttrs, slog.String("result", "error"), slog.String("error", err.Error()))...)
		recordSpanError(span, err)
		return nil, err
	}

	s.metrics.ActivationSuccess.Add(ctx, 1)
	logger.InfoContext(ctx, "license activated",
		append(keyAttrs,
			slog.String("result", "activated"),
			slog.Int64("activated_at", entitlement.Millis(receipt.ActivatedAt)),
			slog.Int64("expires_at", entitlement.Millis(receipt.ExpiresAt)),
		)...)

	s.publisher.Publish(ctx, entitlement.Event{
		Type:   entitlement.EventActivated,
		UserID: rec.UserID,
		At:     receipt.ActivatedAt,
		Data: map[string]interface{}{
			"activated_at": entitlement.Millis(receipt.ActivatedAt),
			"expires_at":   entitlement.Millis(receipt.ExpiresAt),
		},
	})

	return &ActivationResponse{
		Success:     true,
		Message:     "License activated",
		UserID:      receipt.UserID,
		ActivatedAt: entitlement.Millis(receipt.ActivatedAt),
		ExpiresAt:   entitlement.Millis(receipt.ExpiresAt),
	}, nil
}

// AuthorizeResourceAccess evaluates userID and applies the gate.
func (s *entitlementService) AuthorizeResourceAccess(ctx context.Context, userID string) (*AccessDecision, error) {
	ctx, span := s.tracer.Start(ctx, "entitlement.AuthorizeResourceAccess")
	defer span.End()

	snap, err := s.evaluate(ctx, userID, "authorize")
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	decision := entitlement.Decide(snap.eval.TrialExpired, snap.eval.LicenseActive)
	s.metrics.RecordDecision(ctx, decision)
	span.SetAttributes(attribute.String("entitlement.decision", string(decision)))

	level := slog.LevelDebug
	if !decision.Allowed() {
		level = slog.LevelInfo
	}
	s.actionLogger("authorize").Log(ctx, level, "resource access decided",
		slog.String("user_id", snap.record.UserID),
		slog.String("result", string(decision)),
	)

	return &AccessDecision{
		UserID:        snap.record.UserID,
		Decision:      decision,
		TrialExpired:  snap.eval.TrialExpired,
		LicenseActive: snap.eval.LicenseActive,
		ServerTime:    entitlement.Millis(snap.now),
	}, nil
}

// evaluate is the shared read-through path: load or create the record,
// evaluate it at the current instant and persist what changed.
func (s *entitlementService) evaluate(ctx context.Context, userID, action string) (snapshot, error) {
	start := time.Now()
	defer func() {
		s.metrics.EvaluationDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("action", action)))
	}()

	id, err := cleanIdentity(userID)
	if err != nil {
		return snapshot{}, err
	}

	now := s.clock.Now()
	rec, err := s.store.GetOrCreate(ctx, id, now)
	if err != nil {
		s.metrics.RecordStoreError(ctx, "get_or_create")
		s.actionLogger(action).ErrorContext(ctx, "entitlement lookup failed",
			slog.String("user_id", id),
			slog.String("result", "error"),
			slog.String("error", err.Error()),
		)
		return snapshot{}, err
	}

	s.metrics.Evaluations.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
	eval := s.engine.Evaluate(rec, now)
	if eval.Transitions.Empty() {
		return snapshot{record: rec, eval: eval, now: now}, nil
	}

	updated, applied, err := s.applyTransitions(ctx, id, eval.Transitions)
	if err != nil {
		s.actionLogger(action).ErrorContext(ctx, "failed to persist entitlement transitions",
			slog.String("user_id", id),
			slog.Any("transitions", eval.Transitions.Kinds()),
			slog.String("result", "error"),
			slog.String("error", err.Error()),
		)
		return snapshot{}, err
	}

	s.announce(ctx, action, updated, applied, now)

	// The store may have moved on (a concurrent activation), so answer from
	// what it returned.
	eval = s.engine.Evaluate(updated, now)
	return snapshot{record: updated, eval: eval, now: now}, nil
}

// applyTransitions persists t, retrying transient store failures with
// exponential backoff until the attempts or the context run out.
func (s *entitlementService) applyTransitions(ctx context.Context, id string, t entitlement.Transitions) (entitlement.Entitlement, entitlement.Transitions, error) {
	var lastErr error

	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			s.metrics.StoreRetries.Add(ctx, 1)
			timer := time.NewTimer(s.retry.Delay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return entitlement.Entitlement{}, entitlement.Transitions{},
					fmt.Errorf("%w (retry aborted: %v)", lastErr, ctx.Err())
			case <-timer.C:
			}
		}

		rec, applied, err := s.store.ApplyTransitions(ctx, id, t)
		if err == nil {
			return rec, applied, nil
		}

		s.metrics.RecordStoreError(ctx, "apply_transitions")
		lastErr = err
		if !errors.Is(err, entitlement.ErrStoreUnavailable) {
			break
		}

		s.logger.WarnContext(ctx, "transition write failed",
			slog.String("user_id", id),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", s.retry.MaxAttempts),
			slog.String("error", err.Error()),
		)
	}

	return entitlement.Entitlement{}, entitlement.Transitions{}, lastErr
}

// announce logs, counts and publishes the transitions the store applied.
// Transitions the store skipped were announced by whoever applied them.
func (s *entitlementService) announce(ctx context.Context, action string, rec entitlement.Entitlement, applied entitlement.Transitions, now time.Time) {
	if applied.Empty() {
		return
	}

	s.metrics.RecordTransitions(ctx, applied)
	logger := s.actionLogger(action)
	at := entitlement.Millis(now)

	if applied.TrialEnded {
		ends := entitlement.Millis(s.engine.TrialEndsAt(rec))
		logger.InfoContext(ctx, "trial ended",
			slog.String("user_id", rec.UserID),
			slog.String("result", entitlement.TransitionTrialEnded),
			slog.Int64("trial_start", entitlement.Millis(rec.TrialStart)),
			slog.Int64("trial_ends_at", ends),
			slog.Int64("observed_at", at),
		)
		s.publisher.Publish(ctx, entitlement.Event{
			Type:   entitlement.EventTrialEnded,
			UserID: rec.UserID,
			At:     now,
			Data: map[string]interface{}{
				"trial_start":   entitlement.Millis(rec.TrialStart),
				"trial_ends_at": ends,
			},
		})
	}

	if applied.LicenseEnded {
		activated := entitlement.Millis(applied.LicenseCycle)
		expired := entitlement.Millis(applied.LicenseCycle.Add(s.engine.LicenseWindow()))
		logger.InfoContext(ctx, "license ended",
			slog.String("user_id", rec.UserID),
			slog.String("result", entitlement.TransitionLicenseEnded),
			slog.Int64("activated_at", activated),
			slog.Int64("expires_at", expired),
			slog.Int64("observed_at", at),
		)
		s.publisher.Publish(ctx, entitlement.Event{
			Type:   entitlement.EventLicenseEnded,
			UserID: rec.UserID,
			At:     now,
			Data: map[string]interface{}{
				"activated_at": activated,
				"expires_at":   expired,
			},
		})
	}
}

func (s *entitlementService) actionLogger(action string) *slog.Logger {
	return s.logger.With(slog.String("action", action))
}

// cleanIdentity rejects empty and malformed identities.
func cleanIdentity(userID string) (string, error) {
	id, err := security.CleanUserID(userID)
	if err != nil {
		return "", apierrors.NewValidationError(err.Error())
	}
	return entitlement.NormalizeUserID(id)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
