package middleware

import (
	"net/http"
	"sync"
	"time"
)

// clientLimiter tracks a token bucket per caller IP. Slot and calendar
// reads are cheap but unauthenticated, so the limit keys on the address
// rather than the user.
type clientLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	rate    float64
	burst   int
}

type tokenBucket struct {
	tokens float64
	seen   time.Time
}

func newClientLimiter(rate float64, burst int) *clientLimiter {
	cl := &clientLimiter{
		buckets: make(map[string]*tokenBucket),
		rate:    rate,
		burst:   burst,
	}
	go cl.evictIdle()
	return cl
}

// allow refills the caller's bucket for the elapsed time and takes one
// token if available.
func (cl *clientLimiter) allow(addr string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := time.Now()
	b, ok := cl.buckets[addr]
	if !ok {
		b = &tokenBucket{tokens: float64(cl.burst), seen: now}
		cl.buckets[addr] = b
	}

	b.tokens += now.Sub(b.seen).Seconds() * cl.rate
	if b.tokens > float64(cl.burst) {
		b.tokens = float64(cl.burst)
	}
	b.seen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// evictIdle drops buckets for addresses that have gone quiet so the map
// does not grow without bound.
func (cl *clientLimiter) evictIdle() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cl.mu.Lock()
		cutoff := time.Now().Add(-10 * time.Minute)
		for addr, b := range cl.buckets {
			if b.seen.Before(cutoff) {
				delete(cl.buckets, addr)
			}
		}
		cl.mu.Unlock()
	}
}

// RateLimit rejects callers exceeding rate requests per second (with the
// given burst) with 429 Too Many Requests.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	limiter := newClientLimiter(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := r.RemoteAddr
			// X-Real-Ip is set by chi's RealIP middleware upstream.
			if xri := r.Header.Get("X-Real-Ip"); xri != "" {
				addr = xri
			}
			if !limiter.allow(addr) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
