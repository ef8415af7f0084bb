package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultRateWindow = time.Minute

// RateLimiter throttles webhook deliveries per client IP using a fixed
// counting window. Entries that stay idle for a full window are evicted,
// so the map stays bounded on a public endpoint no matter how many
// distinct IPs the gateway (or anyone else) sends from.
type RateLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	clients   map[string]*clientWindow
	lastEvict time.Time
	now       func() time.Time
}

type clientWindow struct {
	windowStart time.Time
	count       int
	lastSeen    time.Time
}

// NewRateLimiter creates a limiter allowing limit requests per window per
// client IP.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientWindow),
		now:     time.Now,
	}
}

// Allow reports whether a request from ip fits the current window.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.evictIdle(now)

	cw := rl.clients[ip]
	if cw == nil || now.Sub(cw.windowStart) >= rl.window {
		rl.clients[ip] = &clientWindow{windowStart: now, count: 1, lastSeen: now}
		return true
	}
	cw.lastSeen = now
	if cw.count >= rl.limit {
		return false
	}
	cw.count++
	return true
}

// evictIdle drops entries not seen for a full window. Runs at most once
// per window; callers hold the mutex.
func (rl *RateLimiter) evictIdle(now time.Time) {
	if now.Sub(rl.lastEvict) < rl.window {
		return
	}
	rl.lastEvict = now
	for ip, cw := range rl.clients {
		if now.Sub(cw.lastSeen) >= rl.window {
			delete(rl.clients, ip)
		}
	}
}

// Middleware rejects over-limit requests with 429 and a Retry-After hint.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window/time.Second)))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the first hop of X-Forwarded-For (the gateway sits
// behind a reverse proxy in every deployment we run), falling back to the
// socket address.
func clientIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if hop, _, found := strings.Cut(xff, ","); found || strings.TrimSpace(hop) != "" {
		return strings.TrimSpace(hop)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
