package router_test

import (
	"testing"
	"time"

	"signoff/internal/router"
)

func TestRateLimiterFixedWindow(t *testing.T) {
	limiter := router.NewRateLimiter(router.NewRateLimiterOpts{
		Limit:  3,
		Window: time.Minute,
	})
	now := time.Now()
	for i := 0; i < 3; i++ {
		if !limiter.Allow("T001", now) {
			t.Fatalf("expected request %d within the window to pass", i)
		}
	}
	if limiter.Allow("T001", now) {
		t.Errorf("expected the fourth request to be limited")
	}

	// another tenant has its own window
	if !limiter.Allow("T002", now) {
		t.Errorf("expected an unrelated tenant to pass")
	}

	// the window resets once its deadline passes
	if !limiter.Allow("T001", now.Add(61*time.Second)) {
		t.Errorf("expected the limit to reset after the window")
	}
	tenantWindow, ok := limiter.Window("T001")
	if !ok {
		t.Fatalf("expected a tracked window for T001")
	}
	if tenantWindow.Count != 1 {
		t.Errorf("expected a fresh count of 1, got %d", tenantWindow.Count)
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	limiter := router.NewRateLimiter(router.NewRateLimiterOpts{})
	now := time.Now()
	for i := 0; i < router.DefaultRateLimit; i++ {
		if !limiter.Allow("T001", now) {
			t.Fatalf("expected request %d within the default budget to pass", i)
		}
	}
	if limiter.Allow("T001", now) {
		t.Errorf("expected the request over the default budget to be limited")
	}
}
