package entitlement

import (
	"strings"
)

// KeyPolicy decides whether a presented license key is acceptable. The rule
// is configuration and can change without touching the state machine.
type KeyPolicy interface {
	Valid(key string) bool
}

// KeyPolicyFunc adapts a plain function to KeyPolicy.
type KeyPolicyFunc func(key string) bool

func (f KeyPolicyFunc) Valid(key string) bool { return f(key) }

// ExactKey accepts one designated key, typically the test key.
func ExactKey(expected string) KeyPolicy {
	expected = strings.TrimSpace(expected)
	return KeyPolicyFunc(func(key string) bool {
		return expected != "" && strings.TrimSpace(key) == expected
	})
}

// PrefixKey accepts issued keys that start with prefix and carry at least
// one character after it.
func PrefixKey(prefix string) KeyPolicy {
	prefix = strings.TrimSpace(prefix)
	return KeyPolicyFunc(func(key string) bool {
		key = strings.TrimSpace(key)
		return prefix != "" && len(key) > len(prefix) && strings.HasPrefix(key, prefix)
	})
}

// AnyOf accepts a key when any of the policies does.
func AnyOf(policies ...KeyPolicy) KeyPolicy {
	return KeyPolicyFunc(func(key string) bool {
		for _, p := range policies {
			if p != nil && p.Valid(key) {
				return true
			}
		}
		return false
	})
}

// NewKeyPolicy builds the configured policy: the exact test key or any of the
// issued-key prefixes. Empty entries are ignored.
func NewKeyPolicy(testKey string, prefixes []string) KeyPolicy {
	policies := make([]KeyPolicy, 0, len(prefixes)+1)
	if strings.TrimSpace(testKey) != "" {
		policies = append(policies, ExactKey(testKey))
	}
	for _, p := range prefixes {
		if strings.TrimSpace(p) != "" {
			policies = append(policies, PrefixKey(p))
		}
	}
	return AnyOf(policies...)
}
