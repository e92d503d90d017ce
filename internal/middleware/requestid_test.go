package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/TaskForge/internal/logger"
)

func TestRequestIDGeneratesWhenMissing(t *testing.T) {
	var got string
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = logger.RequestID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	RequestID(next).ServeHTTP(rec, req)

	if got == "" {
		t.Fatal("expected a generated request id in context")
	}
	if rec.Header().Get("X-Request-ID") != got {
		t.Fatalf("expected response header to match context id %q", got)
	}
	if len(got) != 32 {
		t.Fatalf("expected 32-char hex id, got %q", got)
	}
}

func TestRequestIDPreservesIncoming(t *testing.T) {
	var got string
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = logger.RequestID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-id-1")
	rec := httptest.NewRecorder()
	RequestID(next).ServeHTTP(rec, req)

	if got != "client-id-1" {
		t.Fatalf("expected incoming id preserved, got %q", got)
	}
}
