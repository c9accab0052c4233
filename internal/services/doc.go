// Package services implements the business logic layer of scriptgate. It sits
// between the HTTP handlers and the entitlement state machine so handlers
// stay free of storage and clock concerns.
//
// # Entitlement Service
//
// EntitlementService exposes the three external operations:
//
//	GetStatus(ctx, userID)               read-through evaluation of one identity
//	Activate(ctx, userID, licenseKey)    key check and a new license window
//	AuthorizeResourceAccess(ctx, userID) the ALLOW / DENY gate
//
// Every call loads or creates the record, evaluates it at the current clock
// instant and persists pending transitions before answering. Transition
// writes are retried on entitlement.ErrStoreUnavailable with exponential
// backoff. Only transitions the store reports as applied are logged, counted
// and published, so "trial ended" and "license ended" appear exactly once per
// occurrence even under concurrent requests.
//
// # Health Service
//
// HealthService reports liveness and pings stores that implement
// entitlement.Pinger for readiness.
//
// # Error Handling
//
// Services return the entitlement sentinel errors unchanged (possibly
// wrapped). Malformed input is reported as an errors.AppError of type
// VALIDATION. The HTTP layer maps both to problem responses.
package services
