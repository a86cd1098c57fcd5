// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(2)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if rl.Allow("a") {
		t.Error("expected third request to be limited")
	}
	if !rl.Allow("b") {
		t.Error("other IPs have their own bucket")
	}

	// 2/min refills one token every 30s
	now = now.Add(31 * time.Second)
	if !rl.Allow("a") {
		t.Error("expected a token after refill")
	}
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(60)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("old")
	now = now.Add(time.Hour)
	rl.Allow("new")

	if _, ok := rl.perIP["old"]; ok {
		t.Error("expected idle visitor to be swept")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		if !rl.Allow("a") {
			t.Fatalf("request %d limited with limiting disabled", i)
		}
	}
}

func TestLimitHandler(t *testing.T) {
	rl := NewRateLimiter(1)
	handler := rl.Limit(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	codes := make([]int, 2)
	for i := range codes {
		req := httptest.NewRequest("POST", "/trips/x/ballots", nil)
		req.RemoteAddr = "192.0.2.1:1000"
		w := httptest.NewRecorder()
		handler(w, req)
		codes[i] = w.Code
	}

	if codes[0] != http.StatusCreated {
		t.Errorf("first request: expected 201, got %d", codes[0])
	}
	if codes[1] != http.StatusTooManyRequests {
		t.Errorf("second request: expected 429, got %d", codes[1])
	}
}
