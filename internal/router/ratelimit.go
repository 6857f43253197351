package router

import (
	"sync"
	"time"
)

const (
	DefaultRateLimit       = 60
	DefaultRateLimitWindow = time.Minute
)

// RateLimitWindow tracks one tenant's usage of the current fixed
// window. Count resets when WindowResetAt passes
type RateLimitWindow struct {
	Count         int
	WindowResetAt time.Time
}

type NewRateLimiterOpts struct {
	// Limit is the number of requests allowed per tenant per window,
	// defaults to DefaultRateLimit
	Limit int

	// Window is the fixed window length, defaults to
	// DefaultRateLimitWindow
	Window time.Duration
}

func NewRateLimiter(opts NewRateLimiterOpts) *RateLimiter {
	limit := opts.Limit
	if limit == 0 {
		limit = DefaultRateLimit
	}
	window := opts.Window
	if window == 0 {
		window = DefaultRateLimitWindow
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		tenants: map[string]*RateLimitWindow{},
	}
}

// RateLimiter applies a fixed-window limit per tenant so one noisy
// workspace cannot starve the rest
type RateLimiter struct {
	limit  int
	window time.Duration

	mutex   sync.Mutex
	tenants map[string]*RateLimitWindow
}

func (rl *RateLimiter) Allow(tenantId string, now time.Time) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	tenantWindow, ok := rl.tenants[tenantId]
	if !ok || now.After(tenantWindow.WindowResetAt) {
		rl.tenants[tenantId] = &RateLimitWindow{
			Count:         1,
			WindowResetAt: now.Add(rl.window),
		}
		return true
	}
	if tenantWindow.Count >= rl.limit {
		return false
	}
	tenantWindow.Count++
	return true
}

// Window exposes a copy of a tenant's current window for tests and
// the readiness surface
func (rl *RateLimiter) Window(tenantId string) (RateLimitWindow, bool) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	tenantWindow, ok := rl.tenants[tenantId]
	if !ok {
		return RateLimitWindow{}, false
	}
	return *tenantWindow, true
}
