// Package entitlement implements the per-user entitlement state machine that
// gates delivery of the downloadable script.
//
// # Lifecycle
//
// Every user identity owns exactly one Entitlement record, created lazily the
// first time the identity is observed:
//
//	TRIAL_ACTIVE -> TRIAL_EXPIRED_NO_LICENSE <-> LICENSED_ACTIVE -> LICENSE_EXPIRED
//
// Activation is reachable from any state and may be repeated any number of
// times. Records are never deleted.
//
// # Components
//
//   - Clock: supplies the current instant (SystemClock, FakeClock)
//   - Engine: pure evaluation of a record snapshot at an instant
//   - Store: keyed storage with get-or-create and conditional updates
//   - Activator: validates a presented key and activates the record
//   - Decide: the Gate consumed before the script is served
//
// # Evaluation Flow
//
//	rec, _ := store.GetOrCreate(ctx, userID, now)
//	eval := engine.Evaluate(rec, now)
//	if !eval.Transitions.Empty() {
//	    rec, applied, _ = store.ApplyTransitions(ctx, userID, eval.Transitions)
//	    // log only what was applied
//	}
//	decision := entitlement.Decide(eval.TrialExpired, eval.LicenseActive)
//
// Expiry is evaluated lazily on read. There is no background sweeper; a
// transition is persisted as a side effect of the first read that observes it,
// and the store reports which transitions it actually applied so that each
// ended event is logged once.
package entitlement
