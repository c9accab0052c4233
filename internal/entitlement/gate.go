package entitlement

// Decision is the outcome of the access gate.
type Decision string

const (
	Allow Decision = "ALLOW"
	Deny  Decision = "DENY"
)

// Decide allows delivery while the trial is running or a license is in force.
func Decide(trialExpired, licenseActive bool) Decision {
	if !trialExpired || licenseActive {
		return Allow
	}
	return Deny
}

// Allowed reports whether d permits delivery.
func (d Decision) Allowed() bool {
	return d == Allow
}
