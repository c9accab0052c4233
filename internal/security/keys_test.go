package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFingerprinter(t *testing.T) {
	f, err := NewKeyFingerprinter("secret")
	require.NoError(t, err)

	fp := f.Fingerprint("KEY-ABC")
	assert.Len(t, fp, 16)
	assert.Equal(t, fp, f.Fingerprint("  KEY-ABC "), "fingerprint ignores surrounding whitespace")
	assert.NotEqual(t, fp, f.Fingerprint("KEY-ABD"))
	assert.NotContains(t, fp, "KEY")

	same, err := NewKeyFingerprinter("secret")
	require.NoError(t, err)
	assert.Equal(t, fp, same.Fingerprint("KEY-ABC"), "same secret gives same fingerprint")

	other, err := NewKeyFingerprinter("other")
	require.NoError(t, err)
	assert.NotEqual(t, fp, other.Fingerprint("KEY-ABC"))
}

func TestKeyFingerprinter_RandomSecret(t *testing.T) {
	a, err := NewKeyFingerprinter("")
	require.NoError(t, err)
	b, err := NewKeyFingerprinter("")
	require.NoError(t, err)

	assert.Equal(t, a.Fingerprint("TEST-1234"), a.Fingerprint("TEST-1234"))
	assert.NotEqual(t, a.Fingerprint("TEST-1234"), b.Fingerprint("TEST-1234"))
}

func TestMaskLicenseKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", ""},
		{"KEY-A", "*****"},
		{"TEST-123", "********"},
		{"TEST-1234", "TEST****1234"},
		{"KEY-ABCDEFGH-XYZ1", "KEY-****XYZ1"},
		{"  KEY-ABCDEFGH  ", "KEY-****EFGH"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskLicenseKey(tt.key))
		})
	}
}

func TestCleanInput(t *testing.T) {
	id, err := CleanUserID("  user-42 ")
	require.NoError(t, err)
	assert.Equal(t, "user-42", id)

	id, err = CleanUserID("   ")
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = CleanUserID("user\x00id")
	assert.ErrorContains(t, err, "control characters")

	_, err = CleanUserID("u\xff")
	assert.ErrorContains(t, err, "not valid UTF-8")

	id, err = CleanUserID("utilisateur-é")
	require.NoError(t, err)
	assert.Equal(t, "utilisateur-é", id)

	_, err = CleanUserID(strings.Repeat("u", MaxUserIDLength+1))
	assert.ErrorContains(t, err, "exceeds")

	key, err := CleanLicenseKey(" KEY-ABC\t")
	require.NoError(t, err)
	assert.Equal(t, "KEY-ABC", key)

	_, err = CleanLicenseKey("KEY-\nABC")
	assert.Error(t, err)

	_, err = CleanLicenseKey(strings.Repeat("K", MaxLicenseKeyLength+1))
	assert.Error(t, err)
}
