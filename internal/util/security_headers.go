package util

import (
	"net/http"
	"strings"
)

var baseSecurityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Permissions-Policy", "geolocation=(), camera=(), microphone=()"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'"},
	// slide images are embedded by front-ends on other origins
	{"Cross-Origin-Resource-Policy", "cross-origin"},
}

// WithSecurityHeaders sets response hardening headers for the JSON and image
// routes. HSTS is only sent over HTTPS, direct or forwarded.
func WithSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range baseSecurityHeaders {
			h.Set(kv[0], kv[1])
		}
		if isHTTPS(r) {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}
