package httpx

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter wraps a token bucket rate limiter for controlling request rates
// to external hosts. It is safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a new rate limiter.
// ratePerSecond is the sustained rate of requests per second.
// burst is the maximum burst size.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// Wait blocks until a request is allowed or the context is canceled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow returns true if a request is allowed without waiting.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Tokens returns the current number of available tokens.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

// HostLimit is a rate override for one host.
type HostLimit struct {
	RPS   float64
	Burst int
}

// HostLimiters lazily creates one RateLimiter per host. Hosts with an
// override use it; all others share the default rate (but not a bucket).
type HostLimiters struct {
	mu        sync.Mutex
	limiters  map[string]*RateLimiter
	overrides map[string]HostLimit
	def       HostLimit
}

// NewHostLimiters creates per-host limiters with a default limit and
// optional per-host overrides. Host keys are matched case-insensitively.
func NewHostLimiters(def HostLimit, overrides map[string]HostLimit) *HostLimiters {
	o := make(map[string]HostLimit, len(overrides))
	for h, l := range overrides {
		o[strings.ToLower(h)] = l
	}
	if def.RPS <= 0 {
		def.RPS = DefaultRateLimit
	}
	if def.Burst <= 0 {
		def.Burst = DefaultBurstSize
	}
	return &HostLimiters{
		limiters:  make(map[string]*RateLimiter),
		overrides: o,
		def:       def,
	}
}

// For returns the limiter for host, creating it on first use.
func (h *HostLimiters) For(host string) *RateLimiter {
	host = strings.ToLower(host)

	h.mu.Lock()
	defer h.mu.Unlock()

	if l, ok := h.limiters[host]; ok {
		return l
	}
	lim := h.def
	if o, ok := h.overrides[host]; ok {
		lim = o
	}
	l := NewRateLimiter(lim.RPS, lim.Burst)
	h.limiters[host] = l
	return l
}

// Wait blocks until a request to host is allowed.
func (h *HostLimiters) Wait(ctx context.Context, host string) error {
	return h.For(host).Wait(ctx)
}
