// Package security keeps raw license keys out of logs and checks untrusted
// identity and key input before it reaches the entitlement layer.
package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/hkdf"
)

const (
	fingerprintInfo = "scriptgate/license-key-fingerprint/v1"
	fingerprintLen  = 16 // hex chars
	keySize         = 32

	// MaxLicenseKeyLength bounds accepted license keys.
	MaxLicenseKeyLength = 128
	// MaxUserIDLength bounds accepted identities.
	MaxUserIDLength = 256
)

// KeyFingerprinter derives stable, non-reversible identifiers for license
// keys so activations can be correlated in logs without exposing the key.
type KeyFingerprinter struct {
	macKey []byte
}

// NewKeyFingerprinter derives the HMAC key from secret with HKDF-SHA256. An
// empty secret yields a random per-process key: fingerprints are then only
// comparable within one run.
func NewKeyFingerprinter(secret string) (*KeyFingerprinter, error) {
	ikm := []byte(secret)
	if len(ikm) == 0 {
		ikm = make([]byte, keySize)
		if _, err := rand.Read(ikm); err != nil {
			return nil, fmt.Errorf("failed to generate fingerprint secret: %w", err)
		}
	}

	macKey := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, nil, []byte(fingerprintInfo)), macKey); err != nil {
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}

	return &KeyFingerprinter{macKey: macKey}, nil
}

// Fingerprint returns a short hex HMAC of the trimmed key.
func (f *KeyFingerprinter) Fingerprint(licenseKey string) string {
	mac := hmac.New(sha256.New, f.macKey)
	mac.Write([]byte(strings.TrimSpace(licenseKey)))
	return hex.EncodeToString(mac.Sum(nil))[:fingerprintLen]
}

// MaskLicenseKey keeps the first and last four characters of keys longer
// than eight characters and masks everything else.
func MaskLicenseKey(licenseKey string) string {
	key := []rune(strings.TrimSpace(licenseKey))
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return string(key[:4]) + "****" + string(key[len(key)-4:])
}

// CleanUserID trims an identity and rejects invalid UTF-8, control
// characters and oversized values. An empty result is left for the caller to reject.
func CleanUserID(userID string) (string, error) {
	return clean("user_id", userID, MaxUserIDLength)
}

// CleanLicenseKey applies the same checks to a presented license key.
func CleanLicenseKey(licenseKey string) (string, error) {
	return clean("license_key", licenseKey, MaxLicenseKeyLength)
}

func clean(field, value string, maxLen int) (string, error) {
	if !utf8.ValidString(value) {
		return "", fmt.Errorf("%s is not valid UTF-8", field)
	}
	v := strings.TrimSpace(value)
	if len(v) > maxLen {
		return "", fmt.Errorf("%s exceeds %d bytes", field, maxLen)
	}
	for _, r := range v {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%s contains control characters", field)
		}
	}
	return v, nil
}
