package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizeRoute(t *testing.T) {
	tests := map[string]string{
		"/upload":                                   "/upload",
		"/healthz":                                  "/healthz",
		"/stories/0f1e2d3c4b5a69788796a5b4c3d2e1f0": "/stories/{id}",
		"/stories/abc/images/1_fox.jpg":             "/stories/{id}/images/{name}",
		"/stories/abc/other/1_fox.jpg":              "other",
		"/favicon.ico":                              "other",
	}
	for in, want := range tests {
		if got := NormalizeRoute(in); got != want {
			t.Fatalf("NormalizeRoute(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWithMetricsPassesThrough(t *testing.T) {
	h := WithMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/upload", nil))
	if rec.Code != http.StatusAccepted || rec.Body.String() != "ok" {
		t.Fatalf("unexpected response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestNewIDFormat(t *testing.T) {
	a, b := NewID(), NewID()
	if len(a) != 32 || a == b {
		t.Fatalf("unexpected ids %q %q", a, b)
	}
	for _, c := range a {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Fatalf("id %q contains non-hex character %q", a, c)
		}
	}
}

func TestWithCORS(t *testing.T) {
	h := WithCORS([]string{"https://app.example"}, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/upload", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/stories/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin for unknown origin: %q", got)
	}
}
