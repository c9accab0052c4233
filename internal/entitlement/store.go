package entitlement

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrMissingIdentity is returned when no user identity was supplied.
	ErrMissingIdentity = errors.New("missing user identity")

	// ErrInvalidKey is returned when a presented license key fails the key policy.
	ErrInvalidKey = errors.New("invalid license key")

	// ErrStoreUnavailable wraps every persistence failure. It is transient and
	// must never be read as an expiry or an activation.
	ErrStoreUnavailable = errors.New("entitlement store unavailable")

	// ErrNotFound is returned by Store.Get and by updates on unknown identities.
	ErrNotFound = errors.New("entitlement not found")
)

// Store holds one Entitlement per identity. Implementations serialize all
// mutations of a given identity and let different identities proceed
// independently.
type Store interface {
	// GetOrCreate returns the record for userID, creating it with
	// TrialStart = now if absent. Concurrent first access creates exactly one
	// record.
	GetOrCreate(ctx context.Context, userID string, now time.Time) (Entitlement, error)

	// Get returns the record for userID or ErrNotFound.
	Get(ctx context.Context, userID string) (Entitlement, error)

	// ApplyTransitions atomically records t and returns the updated record
	// together with the subset of t that changed it. TrialEnded applies only
	// while TrialEndedLogged is false. LicenseEnded applies only while
	// LicenseEndedLogged is false and LicenseActivatedAt equals
	// t.LicenseCycle; it sets LicenseEndedLogged and clears LicenseActive.
	ApplyTransitions(ctx context.Context, userID string, t Transitions) (Entitlement, Transitions, error)

	// Activate sets LicenseActive, LicenseActivatedAt = now and clears
	// LicenseEndedLogged in a single field-level update.
	Activate(ctx context.Context, userID string, now time.Time) (Entitlement, error)
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NormalizeUserID trims surrounding whitespace and rejects empty identities.
func NormalizeUserID(userID string) (string, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return "", ErrMissingIdentity
	}
	return id, nil
}

// ApplyTo applies t to rec in place following the Store contract and returns
// the subset that changed it. Store adapters that hold the record in process
// share this rule.
func (t Transitions) ApplyTo(rec *Entitlement) Transitions {
	var applied Transitions
	if t.TrialEnded && !rec.TrialEndedLogged {
		rec.TrialEndedLogged = true
		applied.TrialEnded = true
	}
	if t.LicenseEnded && !rec.LicenseEndedLogged &&
		rec.LicenseActivatedAt != nil && rec.LicenseActivatedAt.Equal(t.LicenseCycle) {
		rec.LicenseEndedLogged = true
		rec.LicenseActive = false
		applied.LicenseEnded = true
		applied.LicenseCycle = t.LicenseCycle
	}
	return applied
}

// ActivateAt applies an activation at now to rec in place.
func ActivateAt(rec *Entitlement, now time.Time) {
	at := now
	rec.LicenseActive = true
	rec.LicenseActivatedAt = &at
	rec.LicenseEndedLogged = false
}
