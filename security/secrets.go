package security

import "crypto/subtle"

// SecretsEqual compares two secrets in constant time. Plain string equality
// leaks the matching prefix length through timing; client secret checks must
// go through this instead.
func SecretsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
