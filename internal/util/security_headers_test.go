package util

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithSecurityHeaders(t *testing.T) {
	tests := []struct {
		name      string
		forwarded string
		tls       bool
		wantHSTS  bool
	}{
		{name: "plain http"},
		{name: "forwarded https", forwarded: "https", wantHSTS: true},
		{name: "direct tls", tls: true, wantHSTS: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			}))
			req := httptest.NewRequest(http.MethodGet, "/stories/abc/images/1_a.jpg", nil)
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-Proto", tc.forwarded)
			}
			if tc.tls {
				req.TLS = &tls.ConnectionState{}
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			want := map[string]string{
				"X-Content-Type-Options":       "nosniff",
				"X-Frame-Options":              "DENY",
				"Referrer-Policy":              "no-referrer",
				"Cross-Origin-Resource-Policy": "cross-origin",
			}
			for k, v := range want {
				if got := rec.Header().Get(k); got != v {
					t.Fatalf("%s = %q, want %q", k, got, v)
				}
			}
			if rec.Header().Get("Content-Security-Policy") == "" {
				t.Fatalf("expected CSP header")
			}
			if got := rec.Header().Get("Strict-Transport-Security") != ""; got != tc.wantHSTS {
				t.Fatalf("HSTS present = %v, want %v", got, tc.wantHSTS)
			}
		})
	}
}
