package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func limitedHandler(rl *RateLimiter) http.Handler {
	return rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func doFrom(h http.Handler, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", http.NoBody)
	req.RemoteAddr = addr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterAllowsBurst(t *testing.T) {
	h := limitedHandler(NewRateLimiter(1, 3))

	for i := range 3 {
		if rec := doFrom(h, "10.0.0.1:1234"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := doFrom(h, "10.0.0.1:1234")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on rejection")
	}
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	h := limitedHandler(NewRateLimiter(1, 1))

	if rec := doFrom(h, "10.0.0.1:1234"); rec.Code != http.StatusOK {
		t.Fatalf("first client: expected 200, got %d", rec.Code)
	}
	if rec := doFrom(h, "10.0.0.1:1234"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("first client: expected 429, got %d", rec.Code)
	}
	if rec := doFrom(h, "10.0.0.2:1234"); rec.Code != http.StatusOK {
		t.Fatalf("second client: expected 200, got %d", rec.Code)
	}
}

func TestRateLimiterRefills(t *testing.T) {
	h := limitedHandler(NewRateLimiter(100, 1))

	if rec := doFrom(h, "10.0.0.1:1234"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := doFrom(h, "10.0.0.1:1234"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	time.Sleep(20 * time.Millisecond) // refills 2 tokens at 100/s

	if rec := doFrom(h, "10.0.0.1:1234"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after refill, got %d", rec.Code)
	}
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	h := limitedHandler(rl)

	doFrom(h, "10.0.0.1:1234")
	doFrom(h, "10.0.0.2:1234")
	if rl.Len() != 2 {
		t.Fatalf("expected 2 tracked clients, got %d", rl.Len())
	}

	time.Sleep(10 * time.Millisecond)
	rl.evictIdle(time.Millisecond)

	if rl.Len() != 0 {
		t.Fatalf("expected 0 tracked clients after eviction, got %d", rl.Len())
	}
}

func TestRateLimiterCleanupStopsWithContext(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	rl.StartCleanup(ctx, time.Millisecond, time.Millisecond)
	cancel()
	// No assertion beyond not leaking; eviction itself is covered above.
}
