// Package replay holds the reuse-detection policy for one-time credentials.
// The decisions live here; the atomic record-keeping lives in the store so a
// crashed retry can never double-consume (the ledger write commits in the
// same transaction that reports success).
package replay

import "time"

// ReuseWindow is how long a consumed TOTP counter stays blocked. A code is
// only time-valid for ~90s with drift ±1, so 60s of counter memory blocks a
// captured code for its whole useful life while letting a legitimate client
// re-derive a later code after the window.
const ReuseWindow = 60 * time.Second

// TOTPReused reports whether a counter submission is a replay: same counter
// as the last consumed one, within the reuse window.
func TOTPReused(lastCounter *int64, lastUsedAt *time.Time, counter int64, now time.Time) bool {
	if lastCounter == nil || lastUsedAt == nil {
		return false
	}
	if *lastCounter != counter {
		return false
	}
	return now.Sub(*lastUsedAt) < ReuseWindow
}

// CounterAcceptable applies the passkey signature-counter rule: strictly
// increasing, except that a pair of zero counters means the authenticator
// class never increments and the check is skipped. That exception trades
// clone detection away for exactly that device class; it is deliberate.
func CounterAcceptable(stored, asserted uint32) bool {
	if stored == 0 && asserted == 0 {
		return true
	}
	return asserted > stored
}
