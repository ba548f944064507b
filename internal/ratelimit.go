package internal

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the token buckets in front of the webhook
// routes. A client silent for Idle loses its bucket. TrustProxy takes the
// client address from X-Forwarded-For or X-Real-Ip; leave it off unless a
// proxy overwrites those headers.
type RateLimitConfig struct {
	RPS        int64
	Burst      int64
	Idle       time.Duration
	TrustProxy bool
}

// routeLimiter keeps one token bucket per route and client address.
type routeLimiter struct {
	mu        sync.Mutex
	buckets   map[bucketKey]*bucket
	rate      float64
	capacity  float64
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type bucketKey struct {
	route  string
	client string
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// NewRateLimitHandler limits each client per route: the first path segment
// names the route, so one address delivering to /github and /gitlab draws
// from two buckets. Rejected requests get 429 and count as responses of
// that route. A non-positive RPS disables limiting.
func NewRateLimitHandler(next http.Handler, cfg RateLimitConfig) http.Handler {
	if cfg.RPS <= 0 {
		return next
	}
	limiter := newRouteLimiter(cfg, time.Now)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeOf(r.URL.Path)
		if !limiter.allow(bucketKey{route: route, client: clientAddr(r, cfg.TrustProxy)}) {
			IncResponse(route, http.StatusTooManyRequests)
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newRouteLimiter(cfg RateLimitConfig, now func() time.Time) *routeLimiter {
	capacity := float64(cfg.Burst)
	if capacity < 1 {
		capacity = float64(cfg.RPS)
	}
	if capacity < 1 {
		capacity = 1
	}
	return &routeLimiter{
		buckets:   make(map[bucketKey]*bucket),
		rate:      float64(cfg.RPS),
		capacity:  capacity,
		idle:      cfg.Idle,
		lastSweep: now(),
		now:       now,
	}
}

func (l *routeLimiter) allow(key bucketKey) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, seen: now}
		l.buckets[key] = b
	}
	b.tokens = min(l.capacity, b.tokens+now.Sub(b.seen).Seconds()*l.rate)
	b.seen = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops idle buckets at most once per idle period.
func (l *routeLimiter) sweep(now time.Time) {
	if l.idle <= 0 || now.Sub(l.lastSweep) < l.idle {
		return
	}
	for key, b := range l.buckets {
		if now.Sub(b.seen) >= l.idle {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

func routeOf(path string) string {
	route, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	return route
}

func clientAddr(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-Ip")); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
