package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func limiterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

func TestRateLimiter_EnforcesLimit(t *testing.T) {
	rl := newRateLimiter(3)
	defer rl.stop()
	handler := rl.wrap(limiterHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/cutover", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		handler(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cutover", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after limit exhausted, got %d", rec.Code)
	}
}

func TestRateLimiter_PerClientBuckets(t *testing.T) {
	rl := newRateLimiter(1)
	defer rl.stop()
	handler := rl.wrap(limiterHandler())

	for _, addr := range []string{"10.0.0.1:5000", "10.0.0.2:5000"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/cutover", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("client %s: expected 200, got %d", addr, rec.Code)
		}
	}
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	rl := newRateLimiter(60)
	defer rl.stop()

	now := time.Now()
	rl.now = func() time.Time { return now }

	for i := 0; i < 60; i++ {
		if !rl.allow("client") {
			t.Fatalf("request %d unexpectedly limited", i+1)
		}
	}
	if rl.allow("client") {
		t.Fatal("expected limit after bucket drained")
	}

	// One second at 60/min refills one token.
	now = now.Add(time.Second)
	if !rl.allow("client") {
		t.Error("expected refilled token to be granted")
	}
	if rl.allow("client") {
		t.Error("expected only one token refilled")
	}
}
