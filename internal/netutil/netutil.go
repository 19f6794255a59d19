package netutil

import (
	"net/netip"
	"strings"
	"unicode/utf8"
)

const MaxUserAgentLength = 512

// NormalizeIP accepts a bare IP or an address with a port ("192.0.2.4:1234",
// "[2001:db8::1]:443") and returns the canonical IP without zone identifiers.
// The second return value reports whether parsing succeeded; audit rows store
// the raw string when it did not.
func NormalizeIP(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if addrPort, err := netip.ParseAddrPort(raw); err == nil {
		addr := addrPort.Addr().WithZone("")
		if addr.IsValid() {
			return addr.String(), true
		}
	}
	if addr, err := netip.ParseAddr(raw); err == nil {
		addr = addr.WithZone("")
		if addr.IsValid() {
			return addr.String(), true
		}
	}
	// Bracketed IPv6 with a malformed port section.
	if strings.HasPrefix(raw, "[") {
		if end := strings.LastIndex(raw, "]"); end > 1 {
			if addr, err := netip.ParseAddr(raw[1:end]); err == nil {
				addr = addr.WithZone("")
				if addr.IsValid() {
					return addr.String(), true
				}
			}
		}
	}
	return raw, false
}

// TruncateUserAgent bounds what gets persisted into audit rows, walking runes
// so multi-byte characters are not split.
func TruncateUserAgent(ua string) string {
	if utf8.RuneCountInString(ua) <= MaxUserAgentLength {
		return ua
	}
	var b strings.Builder
	b.Grow(len(ua))
	count := 0
	for _, r := range ua {
		b.WriteRune(r)
		count++
		if count >= MaxUserAgentLength {
			break
		}
	}
	return b.String()
}
