package domain

import (
	"net/netip"
	"strings"
)

// ParseNetworks parses a comma separated list of CIDR prefixes or bare
// addresses. Bare addresses become single-host prefixes. Blank input yields
// nil. Returns ErrNetworkInvalid on the first malformed entry.
func ParseNetworks(s string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		p, err := ParseNetwork(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ParseNetwork parses a single CIDR prefix or address.
func ParseNetwork(raw string) (netip.Prefix, error) {
	if strings.Contains(raw, "/") {
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return netip.Prefix{}, ErrNetworkInvalid
		}
		return p.Masked(), nil
	}
	a, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, ErrNetworkInvalid
	}
	a = a.Unmap()
	return netip.PrefixFrom(a, a.BitLen()), nil
}

// FormatNetworks is the inverse of ParseNetworks.
func FormatNetworks(ps []netip.Prefix) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return strings.Join(parts, ",")
}
