// Package security provides the constant-time credential comparator and
// the sliding-window auth failure table used by internal/auth and
// internal/hooks (spec.md §4.1, §4.2).
package security

import "crypto/subtle"

// SecretEqual performs a constant-time comparison of provided against
// expected. Unlike crypto/subtle.ConstantTimeCompare, mismatched lengths
// still consume comparison time proportional to the longer input: both
// values are zero-padded to the longer one's length and compared in full
// before the length check is folded into the result, so observing timing
// alone cannot distinguish "wrong length" from "wrong content" (spec.md
// §8's invariant that timing is independent of input value).
func SecretEqual(provided, expected string) bool {
	if expected == "" {
		return false
	}

	p := []byte(provided)
	e := []byte(expected)

	// Pad the shorter slice so subtle.ConstantTimeCompare always walks
	// the same number of bytes regardless of which input is shorter.
	n := len(e)
	if len(p) > n {
		n = len(p)
	}
	pp := make([]byte, n)
	ee := make([]byte, n)
	copy(pp, p)
	copy(ee, e)

	eq := subtle.ConstantTimeCompare(pp, ee)
	lenEq := subtle.ConstantTimeEq(int32(len(p)), int32(len(e)))

	return eq&lenEq == 1
}
