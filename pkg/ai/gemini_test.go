package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestGemini(t *testing.T, defaultKey string, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewGeminiClient(defaultKey, 5*time.Second)
	c.baseURL = srv.URL
	c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return c
}

func TestGeminiDescribeImageSendsInlineDataAndSafety(t *testing.T) {
	var got generateRequest
	var gotKey, gotPath string
	c := newTestGemini(t, "default-key", func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-goog-api-key")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"  A red fox "}]},"finishReason":"STOP"}],"usageMetadata":{"totalTokenCount":12}}`)
	})

	text, err := c.DescribeImage(context.Background(), "models/gemini-1.5-flash", "caller-key", "describe", []byte{0xff, 0xd8}, "image/jpeg")
	if err != nil {
		t.Fatalf("describe image: %v", err)
	}
	if text != "A red fox" {
		t.Fatalf("text = %q", text)
	}
	if gotKey != "caller-key" {
		t.Fatalf("api key header = %q, want caller-key", gotKey)
	}
	if gotPath != "/models/gemini-1.5-flash:generateContent" {
		t.Fatalf("path = %q", gotPath)
	}
	if len(got.Contents) != 1 || len(got.Contents[0].Parts) != 2 {
		t.Fatalf("unexpected contents: %+v", got.Contents)
	}
	inline := got.Contents[0].Parts[1].InlineData
	if inline == nil || inline.MimeType != "image/jpeg" || inline.Data != "/9g=" {
		t.Fatalf("unexpected inline data: %+v", inline)
	}
	if len(got.SafetySettings) != 4 {
		t.Fatalf("safety settings = %d, want 4", len(got.SafetySettings))
	}
	for _, s := range got.SafetySettings {
		if s.Threshold != "BLOCK_NONE" {
			t.Fatalf("threshold for %s = %s", s.Category, s.Threshold)
		}
	}
}

func TestGeminiFallsBackToDefaultKey(t *testing.T) {
	var gotKey string
	c := newTestGemini(t, "default-key", func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-goog-api-key")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"story"}]}}]}`)
	})
	if _, err := c.GenerateText(context.Background(), "gemini-1.5-flash", "", "", "prompt"); err != nil {
		t.Fatalf("generate text: %v", err)
	}
	if gotKey != "default-key" {
		t.Fatalf("api key header = %q, want default-key", gotKey)
	}
}

func TestGeminiMissingKey(t *testing.T) {
	c := NewGeminiClient("", time.Second)
	if _, err := c.GenerateText(context.Background(), "m", " ", "", "prompt"); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestGeminiErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{
			name:   "prompt blocked",
			status: http.StatusOK,
			body:   `{"promptFeedback":{"blockReason":"SAFETY"}}`,
			check:  func(err error) bool { return errors.Is(err, ErrBlocked) },
		},
		{
			name:   "safety finish without text",
			status: http.StatusOK,
			body:   `{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`,
			check:  func(err error) bool { return errors.Is(err, ErrBlocked) },
		},
		{
			name:   "no candidates",
			status: http.StatusOK,
			body:   `{"candidates":[]}`,
			check:  func(err error) bool { return errors.Is(err, ErrEmptyResponse) },
		},
		{
			name:   "blank text",
			status: http.StatusOK,
			body:   `{"candidates":[{"content":{"parts":[{"text":"   "}]},"finishReason":"STOP"}]}`,
			check:  func(err error) bool { return errors.Is(err, ErrEmptyResponse) },
		},
		{
			name:   "upstream status",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"message":"quota exceeded"}}`,
			check: func(err error) bool {
				var se *ServiceError
				return errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests && strings.Contains(se.Error(), "quota exceeded")
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestGemini(t, "k", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			_, err := c.GenerateText(context.Background(), "m", "", "", "prompt")
			if err == nil || !tc.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestGeminiTransportFailureIsServiceError(t *testing.T) {
	c := NewGeminiClient("k", time.Second)
	c.baseURL = "http://127.0.0.1:1"
	_, err := c.GenerateText(context.Background(), "m", "", "", "prompt")
	var se *ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if se.Unwrap() == nil {
		t.Fatalf("expected wrapped transport error")
	}
}
