package session

import (
	"net"
	"strings"
)

// maxFingerprintLength caps the stored fingerprint.
const maxFingerprintLength = 1000

// Source carries the request attributes a fingerprint is derived from.
type Source struct {
	IP             string
	UserAgent      string
	AcceptLanguage string
}

// Fingerprint derives a weak device/network binding from the request
// source: the caller's subnet rather than exact address, the user agent,
// and the accept-language header. It is deliberately drift-tolerant: a
// browser update or network hop changes it. Used only as a signal, never
// as an authentication factor.
func Fingerprint(src Source) string {
	parts := []string{subnet(src.IP), src.UserAgent, src.AcceptLanguage}
	fp := strings.Join(parts, "|")
	if len(fp) > maxFingerprintLength {
		fp = fp[:maxFingerprintLength]
	}
	// The joined form is never empty (two separators survive), but keep
	// the invariant explicit for future edits.
	if fp == "" {
		fp = "unknown"
	}
	return fp
}

// subnet widens an address to its /24 (IPv4) or /64 (IPv6) network, so
// ordinary DHCP churn inside one network does not change the fingerprint.
func subnet(addr string) string {
	// Strip a port if present.
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}

	ip := net.ParseIP(addr)
	if ip == nil {
		return addr
	}

	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String() + "/24"
	}
	return ip.Mask(net.CIDRMask(64, 128)).String() + "/64"
}
