package entitlement

import (
	"time"
)

// Entitlement is the persisted state for a single user identity.
type Entitlement struct {
	UserID             string     `json:"user_id"`
	TrialStart         time.Time  `json:"trial_start"`
	TrialEndedLogged   bool       `json:"trial_ended_logged"`
	LicenseActive      bool       `json:"license_active"`
	LicenseActivatedAt *time.Time `json:"license_activated_at,omitempty"`
	LicenseEndedLogged bool       `json:"license_ended_logged"`
}

// New returns a fresh record whose trial starts at now.
func New(userID string, now time.Time) Entitlement {
	return Entitlement{
		UserID:     userID,
		TrialStart: now,
	}
}

// Clone returns a deep copy so callers never share the activation pointer.
func (e Entitlement) Clone() Entitlement {
	if e.LicenseActivatedAt != nil {
		at := *e.LicenseActivatedAt
		e.LicenseActivatedAt = &at
	}
	return e
}

// Equal reports whether two records hold the same state.
func (e Entitlement) Equal(o Entitlement) bool {
	if e.UserID != o.UserID ||
		!e.TrialStart.Equal(o.TrialStart) ||
		e.TrialEndedLogged != o.TrialEndedLogged ||
		e.LicenseActive != o.LicenseActive ||
		e.LicenseEndedLogged != o.LicenseEndedLogged {
		return false
	}
	if e.LicenseActivatedAt == nil || o.LicenseActivatedAt == nil {
		return e.LicenseActivatedAt == nil && o.LicenseActivatedAt == nil
	}
	return e.LicenseActivatedAt.Equal(*o.LicenseActivatedAt)
}

// HasActivation reports whether the record was activated at least once.
// The timestamp is left stale after expiry, so this says nothing about
// whether the license is currently in force.
func (e Entitlement) HasActivation() bool {
	return e.LicenseActivatedAt != nil
}

// Transition kinds as they appear in logs, metrics and events.
const (
	TransitionTrialEnded   = "trial_ended"
	TransitionLicenseEnded = "license_ended"
)

// Transitions is the set of one-way state changes an evaluation asks the
// store to record.
type Transitions struct {
	TrialEnded   bool
	LicenseEnded bool

	// LicenseCycle is the activation instant whose expiry LicenseEnded
	// records. The store ignores LicenseEnded when the record has since been
	// re-activated.
	LicenseCycle time.Time
}

// Empty reports whether there is nothing to persist.
func (t Transitions) Empty() bool {
	return !t.TrialEnded && !t.LicenseEnded
}

// Kinds lists the transitions in a stable order.
func (t Transitions) Kinds() []string {
	kinds := make([]string, 0, 2)
	if t.TrialEnded {
		kinds = append(kinds, TransitionTrialEnded)
	}
	if t.LicenseEnded {
		kinds = append(kinds, TransitionLicenseEnded)
	}
	return kinds
}

// State names the position of a record in the lifecycle at one instant.
type State string

const (
	StateTrialActive    State = "trial_active"
	StateTrialExpired   State = "trial_expired"
	StateLicensed       State = "licensed"
	StateLicenseExpired State = "license_expired"
)

// StateOf derives the lifecycle state from an evaluation of rec.
func StateOf(rec Entitlement, eval Evaluation) State {
	switch {
	case eval.LicenseActive:
		return StateLicensed
	case !eval.TrialExpired:
		return StateTrialActive
	case rec.HasActivation():
		return StateLicenseExpired
	default:
		return StateTrialExpired
	}
}

// Millis converts an instant to the integer milliseconds used on the wire
// and in durable storage.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis is the inverse of Millis.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
