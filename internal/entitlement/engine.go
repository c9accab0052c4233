package entitlement

import (
	"time"
)

// DefaultWindow is the trial and license duration used when none is configured.
const DefaultWindow = 2 * time.Minute

// Evaluation is the outcome of evaluating one record at one instant.
type Evaluation struct {
	TrialExpired  bool
	LicenseActive bool
	Transitions   Transitions
}

// Engine evaluates expiry for entitlement snapshots. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	trialWindow   time.Duration
	licenseWindow time.Duration
}

// NewEngine creates an engine with the given windows. Non-positive windows
// fall back to DefaultWindow.
func NewEngine(trialWindow, licenseWindow time.Duration) *Engine {
	if trialWindow <= 0 {
		trialWindow = DefaultWindow
	}
	if licenseWindow <= 0 {
		licenseWindow = DefaultWindow
	}
	return &Engine{trialWindow: trialWindow, licenseWindow: licenseWindow}
}

// TrialWindow returns the configured trial duration.
func (e *Engine) TrialWindow() time.Duration { return e.trialWindow }

// LicenseWindow returns the configured license duration.
func (e *Engine) LicenseWindow() time.Duration { return e.licenseWindow }

// Evaluate computes expiry for rec at now and describes the transitions that
// must be persisted. It never mutates rec.
func (e *Engine) Evaluate(rec Entitlement, now time.Time) Evaluation {
	var eval Evaluation

	eval.TrialExpired = now.Sub(rec.TrialStart) > e.trialWindow
	if eval.TrialExpired && !rec.TrialEndedLogged {
		eval.Transitions.TrialEnded = true
	}

	if rec.LicenseActive && rec.LicenseActivatedAt != nil {
		activatedAt := *rec.LicenseActivatedAt
		if now.Sub(activatedAt) <= e.licenseWindow {
			eval.LicenseActive = true
		} else if !rec.LicenseEndedLogged {
			eval.Transitions.LicenseEnded = true
			eval.Transitions.LicenseCycle = activatedAt
		}
	}

	return eval
}

// TrialEndsAt is the last instant at which the trial is still in force.
func (e *Engine) TrialEndsAt(rec Entitlement) time.Time {
	return rec.TrialStart.Add(e.trialWindow)
}

// LicenseExpiresAt is the last instant at which the current activation is in
// force. ok is false for records that were never activated.
func (e *Engine) LicenseExpiresAt(rec Entitlement) (time.Time, bool) {
	if rec.LicenseActivatedAt == nil {
		return time.Time{}, false
	}
	return rec.LicenseActivatedAt.Add(e.licenseWindow), true
}
