package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"photobooth/internal/http/handlers"
)

func TestRouterHealthAndRequestID(t *testing.T) {
	h := NewRouter(&handlers.App{}, Options{Logger: zerolog.Nop()})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /v1/healthz = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID header")
	}
}

func TestRouterRateLimitsSubmit(t *testing.T) {
	h := NewRouter(&handlers.App{}, Options{Logger: zerolog.Nop(), RateLimitPerMin: 1})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/store-image", nil)
		req.RemoteAddr = "198.51.100.7:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusBadRequest || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("status codes = %v, want [400 429]", codes)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	req.RemoteAddr = "198.51.100.7:5000"
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health should not be rate limited, got %d", rec.Code)
	}
}

func TestRouterRateLimitIgnoresForwardedForByDefault(t *testing.T) {
	h := NewRouter(&handlers.App{}, Options{Logger: zerolog.Nop(), RateLimitPerMin: 1})

	codes := make([]int, 0, 2)
	for _, forwarded := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodPost, "/store-image", nil)
		req.RemoteAddr = "198.51.100.7:5000"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusBadRequest || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("status codes = %v, want [400 429]", codes)
	}
}

func TestRouterTrustProxyUsesForwardedAddress(t *testing.T) {
	h := NewRouter(&handlers.App{}, Options{Logger: zerolog.Nop(), RateLimitPerMin: 1, TrustProxy: true})

	codes := make([]int, 0, 2)
	for _, forwarded := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodPost, "/store-image", nil)
		req.RemoteAddr = "10.0.0.2:5000"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusBadRequest || codes[1] != http.StatusBadRequest {
		t.Fatalf("status codes = %v, want [400 400]", codes)
	}
}

func TestRouterNoDirectoryListing(t *testing.T) {
	h := NewRouter(&handlers.App{}, Options{Logger: zerolog.Nop()})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/storage/images/", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("directory listing status = %d, want 404", rec.Code)
	}
}
