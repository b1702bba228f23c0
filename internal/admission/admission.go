// Package admission implements the auth and rate-limit checks the HTTP
// layer runs before a request reaches a handler: a constant-time shared
// secret compare and a per-principal token bucket. Grounded on the
// teacher's middleware chain shape (internal/server/middleware.go) but the
// checks themselves are new — the teacher has no auth/rate-limit layer of
// its own to adapt.
package admission

import (
	"crypto/subtle"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// AuthConfig controls the shared-secret check.
type AuthConfig struct {
	Required bool
	APIKey   string
}

// Authenticator compares X-API-Key in constant time against the
// configured key. When Required is false every request is admitted.
type Authenticator struct {
	cfg AuthConfig
}

// NewAuthenticator builds an Authenticator.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	return &Authenticator{cfg: cfg}
}

// Check reports whether r carries a valid API key, or true unconditionally
// if auth is not required.
func (a *Authenticator) Check(r *http.Request) bool {
	if !a.cfg.Required {
		return true
	}
	presented := r.Header.Get("X-API-Key")
	if presented == "" {
		return false
	}
	// ConstantTimeCompare requires equal-length inputs; a length mismatch
	// is itself not a meaningful timing oracle here (key length isn't
	// secret), so compare lengths first, then bytes.
	if len(presented) != len(a.cfg.APIKey) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(a.cfg.APIKey)) == 1
}

// RateLimiterConfig tunes the token bucket per principal.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// RateLimiter hands out one golang.org/x/time/rate.Limiter per principal
// (API key if present, otherwise client address), created lazily.
type RateLimiter struct {
	cfg RateLimiterConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter builds a RateLimiter.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether principal may proceed now, consuming one token if
// so.
func (rl *RateLimiter) Allow(principal string) bool {
	return rl.limiterFor(principal).Allow()
}

func (rl *RateLimiter) limiterFor(principal string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[principal]
	if !ok {
		l = rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst)
		rl.limiters[principal] = l
	}
	return l
}

// Principal derives the rate-limit/audit principal for r: the API key if
// present, otherwise the client's remote address.
func Principal(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return "key:" + key
	}
	return "addr:" + r.RemoteAddr
}
