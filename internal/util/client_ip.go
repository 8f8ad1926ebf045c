package util

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// TrustedProxies is the set of reverse proxies whose forwarding headers are
// believed when resolving the caller address.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// NewTrustedProxies parses CIDR or bare IP entries. Empty input yields nil,
// which trusts no proxy.
func NewTrustedProxies(entries []string) (*TrustedProxies, error) {
	var prefixes []netip.Prefix
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	if len(prefixes) == 0 {
		return nil, nil
	}
	return &TrustedProxies{prefixes: prefixes}, nil
}

// Contains reports whether addr belongs to a trusted proxy.
func (t *TrustedProxies) Contains(addr netip.Addr) bool {
	if t == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP resolves the caller address. X-Forwarded-For is walked right to
// left only while hops are trusted proxies; X-Real-IP is a fallback from a
// trusted peer. Untrusted peers are taken at their socket address.
func ClientIP(r *http.Request, trusted *TrustedProxies) string {
	peer, ok := parseHostAddr(r.RemoteAddr)
	if !ok {
		return strings.TrimSpace(r.RemoteAddr)
	}
	if !trusted.Contains(peer) {
		return peer.String()
	}

	if hops := parseForwardedFor(r.Header.Values("X-Forwarded-For")); len(hops) > 0 {
		for i := len(hops) - 1; i >= 0; i-- {
			if !trusted.Contains(hops[i]) {
				return hops[i].String()
			}
		}
		return hops[0].String()
	}
	if realIP, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return realIP.Unmap().String()
	}
	return peer.String()
}

// QuotaKey maps a client address to its quota bucket. IPv6 callers share a
// /64 so a single host cannot rotate through its allocation.
func QuotaKey(ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return strings.TrimSpace(ip)
	}
	addr = addr.Unmap()
	if addr.Is4() {
		return addr.String()
	}
	p, err := addr.Prefix(64)
	if err != nil {
		return addr.String()
	}
	return p.String()
}

func parseForwardedFor(values []string) []netip.Addr {
	var hops []netip.Addr
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			addr, err := netip.ParseAddr(strings.TrimSpace(part))
			if err != nil {
				continue
			}
			hops = append(hops, addr.Unmap())
		}
	}
	return hops
}

func parseHostAddr(remote string) (netip.Addr, bool) {
	remote = strings.TrimSpace(remote)
	if remote == "" {
		return netip.Addr{}, false
	}
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
