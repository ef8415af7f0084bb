package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// fakeClock lets tests advance a limiter's view of time without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(limit int, window time.Duration) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(limit, window)
	rl.now = func() time.Time { return clock.t }
	return rl, clock
}

func TestRateLimiter_WindowFillsAndResets(t *testing.T) {
	rl, clock := newTestLimiter(3, time.Minute)
	ip := "203.0.113.10"

	for i := 0; i < 3; i++ {
		if !rl.Allow(ip) {
			t.Fatalf("request %d refused inside the window", i+1)
		}
	}
	if rl.Allow(ip) {
		t.Fatal("request over the limit was allowed")
	}

	// Partway through the window the counter must still hold.
	clock.advance(30 * time.Second)
	if rl.Allow(ip) {
		t.Fatal("over-limit request allowed before the window rolled")
	}

	// Once the window rolls over, the counter starts fresh.
	clock.advance(31 * time.Second)
	if !rl.Allow(ip) {
		t.Fatal("request refused after the window rolled")
	}
}

func TestRateLimiter_TracksClientsIndependently(t *testing.T) {
	rl, _ := newTestLimiter(1, time.Minute)

	if !rl.Allow("203.0.113.1") {
		t.Fatal("first client refused")
	}
	if !rl.Allow("203.0.113.2") {
		t.Fatal("second client refused; counters must be per IP")
	}
	if rl.Allow("203.0.113.1") {
		t.Fatal("first client allowed over its own limit")
	}
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	rl, clock := newTestLimiter(5, time.Minute)

	for i := 0; i < 50; i++ {
		rl.Allow("198.51.100." + string(rune('0'+i%10)))
	}
	if len(rl.clients) == 0 {
		t.Fatal("expected tracked clients")
	}

	// Everyone goes quiet for a full window; the next request sweeps
	// them all out and only the fresh client remains.
	clock.advance(2 * time.Minute)
	rl.Allow("203.0.113.99")
	if got := len(rl.clients); got != 1 {
		t.Fatalf("tracked clients after eviction = %d, want 1", got)
	}
	if rl.clients["203.0.113.99"] == nil {
		t.Fatal("fresh client missing after eviction sweep")
	}
}

func TestRateLimiterMiddleware_RejectsWithRetryAfter(t *testing.T) {
	rl, _ := newTestLimiter(1, time.Minute)
	calls := 0
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/safe2pay", nil)
		req.RemoteAddr = "198.51.100.5:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusNoContent {
		t.Fatalf("first request status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	rec := send()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After = %q, want %q", got, "60")
	}
	if calls != 1 {
		t.Fatalf("next handler calls = %d, want 1", calls)
	}
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name       string
		forwarded  string
		remoteAddr string
		want       string
	}{
		{"forwarded-single", "203.0.113.9", "127.0.0.1:9999", "203.0.113.9"},
		{"forwarded-first-hop", " 203.0.113.1 , 10.0.0.1 ", "127.0.0.1:9999", "203.0.113.1"},
		{"socket-host-port", "", "198.51.100.2:7777", "198.51.100.2"},
		{"socket-unparseable", "", "not-a-host-port", "not-a-host-port"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			req.RemoteAddr = tc.remoteAddr
			if got := clientIP(req); got != tc.want {
				t.Fatalf("clientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
