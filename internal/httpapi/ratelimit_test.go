package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenLimiterRefills(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	limiter := newTokenLimiter(60, 2, func() time.Time { return now })

	if !limiter.allow("10.0.0.1") || !limiter.allow("10.0.0.1") {
		t.Fatal("expected burst of two to be allowed")
	}
	if limiter.allow("10.0.0.1") {
		t.Fatal("expected third request to be limited")
	}
	if !limiter.allow("10.0.0.2") {
		t.Fatal("expected other address to be allowed")
	}

	now = now.Add(time.Second)
	if !limiter.allow("10.0.0.1") {
		t.Fatal("expected one token after a second")
	}
}

func TestRateLimiterSkipsReads(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{PerMinute: 1, Burst: 1})
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(method string) int {
		req := httptest.NewRequest(method, "/api/console/actions/skip", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		return resp.Code
	}

	if code := serve(http.MethodPost); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := serve(http.MethodPost); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := serve(http.MethodGet); code != http.StatusOK {
		t.Fatalf("expected reads to pass, got %d", code)
	}
}
