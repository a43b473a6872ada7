package middleware

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/itskum47/PulseForge/control_plane/observability"
)

// KeyedLimiter hands out a token bucket per key (device, remote addr).
type KeyedLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	r        rate.Limit
	b        int
}

// NewKeyedLimiter creates a limiter with rate r tokens per second and burst b.
func NewKeyedLimiter(r float64, b int) *KeyedLimiter {
	return &KeyedLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(r),
		b:        b,
	}
}

// Allow checks if the key is allowed to proceed.
func (l *KeyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = limiter
	}

	return limiter.Allow()
}

// RateLimit rejects requests over the per-client budget with 429. The key is
// the remote host so one chatty agent cannot starve the rest.
func RateLimit(limiter *KeyedLimiter, endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow(clientKey(r)) {
			observability.APIRateLimited.WithLabelValues(endpoint).Inc()
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
