package util

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10", "fd00::/8"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		xff        []string
		xrip       string
		trusted    *TrustedProxies
		want       string
	}{
		{
			name:       "untrusted peer ignores forwarding headers",
			remoteAddr: "198.51.100.10:1234",
			xff:        []string{"203.0.113.5"},
			xrip:       "203.0.113.6",
			trusted:    trusted,
			want:       "198.51.100.10",
		},
		{
			name:       "nil allowlist trusts nobody",
			remoteAddr: "10.0.0.20:1234",
			xff:        []string{"203.0.113.5"},
			want:       "10.0.0.20",
		},
		{
			name:       "proxy chain stops at first untrusted hop",
			remoteAddr: "10.0.0.20:1234",
			xff:        []string{"198.51.100.1, 203.0.113.5, 10.0.0.10"},
			trusted:    trusted,
			want:       "203.0.113.5",
		},
		{
			name:       "repeated headers are concatenated",
			remoteAddr: "192.168.1.10:80",
			xff:        []string{"203.0.113.9", "10.1.2.3"},
			trusted:    trusted,
			want:       "203.0.113.9",
		},
		{
			name:       "x-real-ip fallback from trusted peer",
			remoteAddr: "10.0.0.20:1234",
			xff:        []string{"garbage"},
			xrip:       "203.0.113.7",
			trusted:    trusted,
			want:       "203.0.113.7",
		},
		{
			name:       "ipv4-mapped peer is unmapped",
			remoteAddr: "[::ffff:198.51.100.4]:443",
			trusted:    trusted,
			want:       "198.51.100.4",
		},
		{
			name:       "ipv6 proxy forwards ipv6 client",
			remoteAddr: "[fd00::1]:8080",
			xff:        []string{"2001:db8::42"},
			trusted:    trusted,
			want:       "2001:db8::42",
		},
		{
			name:       "unparsable remote addr returned verbatim",
			remoteAddr: "pipe",
			want:       "pipe",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "http://example.com/upload", nil)
			req.RemoteAddr = tc.remoteAddr
			for _, v := range tc.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			if tc.xrip != "" {
				req.Header.Set("X-Real-IP", tc.xrip)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	tp, err := NewTrustedProxies([]string{" 10.0.0.0/8 ", "", "192.168.1.1"})
	if err != nil {
		t.Fatalf("expected valid entries, got err: %v", err)
	}
	if !tp.Contains(netip.MustParseAddr("192.168.1.1")) || tp.Contains(netip.MustParseAddr("192.168.1.2")) {
		t.Fatalf("single address entry should match exactly")
	}
	if _, err := NewTrustedProxies([]string{"bad-cidr/33"}); err == nil {
		t.Fatalf("expected parse error for invalid entry")
	}
	empty, err := NewTrustedProxies(nil)
	if err != nil || empty != nil {
		t.Fatalf("empty input should yield nil allowlist, got %v %v", empty, err)
	}
}

func TestQuotaKey(t *testing.T) {
	tests := map[string]string{
		"203.0.113.5":             "203.0.113.5",
		"::ffff:203.0.113.5":      "203.0.113.5",
		"2001:db8:1:2:aaaa::1":    "2001:db8:1:2::/64",
		"2001:db8:1:2:bbbb::9999": "2001:db8:1:2::/64",
		"not-an-ip":               "not-an-ip",
	}
	for in, want := range tests {
		if got := QuotaKey(in); got != want {
			t.Fatalf("QuotaKey(%q) = %q, want %q", in, got, want)
		}
	}
}
