// Package http implements the HTTP handlers of scriptgate. Handlers only
// parse requests, call the service layer and format responses; entitlement
// rules live in internal/services and internal/entitlement.
//
// # Endpoints
//
//	GET  /                        banner
//	GET  /healthz                 health probe
//	GET  /healthz/ready           store readiness
//	GET  /api/entitlement/status  evaluated entitlement
//	POST /api/entitlement/activate
//	GET  /api/script              the gated resource
//
// The identity is read by middleware.Identity from the X-User-ID header or
// the user_id query parameter. Activation also accepts user_id in the body.
//
// # Error Handling
//
// Errors are rendered as RFC 7807 problem documents by errors.ErrorHandler.
// A DENY decision is answered with errors.AccessDenied, whose body does not
// depend on the request identity, and the upstream is never contacted.
package http
