// Package ctime provides byte comparison whose duration does not depend on
// where the inputs first differ, nor (beyond unavoidable noise) on which of
// the two inputs is longer.
package ctime

import "crypto/subtle"

// Equal reports whether a and b hold the same bytes. Equal-length inputs go
// through crypto/subtle directly. Mismatched lengths always compare unequal,
// but we still scan the full longer length with modular indexing so the
// timing does not reveal the true length relationship.
func Equal(a, b []byte) bool {
	if len(a) == len(b) {
		return subtle.ConstantTimeCompare(a, b) == 1
	}
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	if n == 0 {
		return true
	}
	var diff byte
	for i := 0; i < n; i++ {
		var x, y byte
		if len(a) > 0 {
			x = a[i%len(a)]
		}
		if len(b) > 0 {
			y = b[i%len(b)]
		}
		diff |= x ^ y
	}
	// Force the scan result into the comparison so it cannot be elided,
	// then report unequal regardless (lengths differ).
	_ = subtle.ConstantTimeByteEq(diff, 0)
	return false
}

// EqualString is Equal over the raw bytes of two strings.
func EqualString(a, b string) bool { return Equal([]byte(a), []byte(b)) }
