// Package security resolves the address a relay connection is admitted under
// and checks request origins.
package security

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
)

// Networks is a set of address ranges, such as the connection whitelist or
// the proxies allowed to forward a client address.
type Networks []netip.Prefix

// ParseNetworks parses the IP and CIDR entries of a whitelist or trusted
// proxy setting. A bare IP covers that single host. Blank entries are skipped.
func ParseNetworks(entries []string) (Networks, error) {
	nets := make(Networks, 0, len(entries))

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if addr, err := netip.ParseAddr(entry); err == nil {
			addr = addr.Unmap()
			nets = append(nets, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}

		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid network %q: %w", entry, err)
		}
		nets = append(nets, prefix.Masked())
	}

	return nets, nil
}

// Contains reports whether a connection address (an IP or host:port) lies in
// one of the ranges. Unparseable addresses are never contained.
func (n Networks) Contains(address string) bool {
	addr, ok := hostAddr(address)
	if !ok {
		return false
	}
	for _, prefix := range n {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientAddr returns the address a WebSocket upgrade request is rate limited
// and logged under. The forwarded headers only count when the request came
// through one of proxies; otherwise the peer address is used as is.
func ClientAddr(r *http.Request, proxies Networks) string {
	if r == nil {
		return ""
	}

	if proxies.Contains(r.RemoteAddr) {
		forwarded, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
		for _, candidate := range []string{forwarded, r.Header.Get("X-Real-IP")} {
			if addr, ok := hostAddr(candidate); ok {
				return addr.String()
			}
		}
	}

	if addr, ok := hostAddr(r.RemoteAddr); ok {
		return addr.String()
	}
	return ""
}

func hostAddr(address string) (netip.Addr, bool) {
	address = strings.TrimSpace(address)
	if address == "" {
		return netip.Addr{}, false
	}

	if ap, err := netip.ParseAddrPort(address); err == nil {
		return ap.Addr().Unmap(), true
	}
	addr, err := netip.ParseAddr(strings.Trim(address, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
