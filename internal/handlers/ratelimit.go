package handlers

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the limiter table; it is reset when full.
const maxTrackedClients = 10000

// ClientRateLimiter limits requests per client IP with a token bucket.
type ClientRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewClientRateLimiter allows perMinute requests per client per minute.
// A non-positive perMinute returns nil.
func NewClientRateLimiter(perMinute int) *ClientRateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &ClientRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
	}
}

// Allow reports whether the client may make another request now.
func (l *ClientRateLimiter) Allow(client string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[client]
	if !ok {
		if len(l.limiters) >= maxTrackedClients {
			l.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[client] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// Middleware rejects requests over the limit with 429. A nil limiter
// returns nil so the caller can skip it.
func (l *ClientRateLimiter) Middleware() func(http.Handler) http.Handler {
	if l == nil {
		return nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(clientIP(r)) {
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP expects middleware.RealIP to have run first.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
