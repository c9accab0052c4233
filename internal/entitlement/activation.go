package entitlement

import (
	"context"
	"fmt"
	"time"
)

// Receipt confirms a successful activation.
type Receipt struct {
	UserID      string
	ActivatedAt time.Time
	ExpiresAt   time.Time
}

// Activator validates license keys and moves records into the licensed state.
type Activator struct {
	store         Store
	policy        KeyPolicy
	licenseWindow time.Duration
}

// NewActivator creates an activator. A nil policy rejects every key.
func NewActivator(store Store, policy KeyPolicy, licenseWindow time.Duration) *Activator {
	if policy == nil {
		policy = AnyOf()
	}
	if licenseWindow <= 0 {
		licenseWindow = DefaultWindow
	}
	return &Activator{store: store, policy: policy, licenseWindow: licenseWindow}
}

// Activate checks key against the policy and, if it passes, activates the
// record for userID at now. A rejected key returns ErrInvalidKey before any
// store call, leaving the record untouched.
func (a *Activator) Activate(ctx context.Context, userID, key string, now time.Time) (Receipt, Entitlement, error) {
	id, err := NormalizeUserID(userID)
	if err != nil {
		return Receipt{}, Entitlement{}, err
	}
	if !a.policy.Valid(key) {
		return Receipt{}, Entitlement{}, ErrInvalidKey
	}

	if _, err := a.store.GetOrCreate(ctx, id, now); err != nil {
		return Receipt{}, Entitlement{}, fmt.Errorf("activate %s: %w", id, err)
	}
	rec, err := a.store.Activate(ctx, id, now)
	if err != nil {
		return Receipt{}, Entitlement{}, fmt.Errorf("activate %s: %w", id, err)
	}

	return Receipt{
		UserID:      id,
		ActivatedAt: now,
		ExpiresAt:   now.Add(a.licenseWindow),
	}, rec, nil
}
