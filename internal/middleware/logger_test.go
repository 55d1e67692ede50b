package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestRequestIDKeepsValidHeader(t *testing.T) {
	var got string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got != "abc-123" {
		t.Fatalf("RequestIDFromContext() = %q, want %q", got, "abc-123")
	}
	if rec.Header().Get("X-Request-ID") != "abc-123" {
		t.Fatalf("response X-Request-ID = %q", rec.Header().Get("X-Request-ID"))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "bad id\nwith newline")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got == "" || got == "bad id\nwith newline" {
		t.Fatalf("invalid request id was not replaced: %q", got)
	}
}

func TestLoggerAttachesRequestScopedLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	h := RequestID(Logger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	req.Header.Set("X-Request-ID", "rid-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("log lines = %d, want 2: %s", len(lines), buf.String())
	}
	for _, line := range lines {
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		if entry["request_id"] != "rid-1" {
			t.Fatalf("request_id = %v, want rid-1 in %s", entry["request_id"], line)
		}
	}
	var access map[string]any
	_ = json.Unmarshal(lines[1], &access)
	if access["status"] != float64(http.StatusAccepted) {
		t.Fatalf("status = %v, want 202", access["status"])
	}
	if access["bytes"] != float64(2) {
		t.Fatalf("bytes = %v, want 2", access["bytes"])
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://booth.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("preflight reached handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/store-image", nil)
	req.Header.Set("Origin", "https://booth.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://booth.example.com" {
		t.Fatalf("Access-Control-Allow-Origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodOptions, "/store-image", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected allow origin for foreign site")
	}
}
