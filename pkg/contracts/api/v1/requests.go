// Package api contains the request contracts of the scriptgate HTTP API.
package api

// ActivationRequest is the body of POST /api/entitlement/activate. UserID
// may be omitted when the identity is sent in the X-User-ID header or the
// user_id query parameter.
type ActivationRequest struct {
	UserID     string `json:"user_id,omitempty" validate:"omitempty,max=256"`
	LicenseKey string `json:"license_key" validate:"required,max=128"`
}
