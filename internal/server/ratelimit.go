package server

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimitConfig bounds overall request throughput and the rate at which
// a single address may open relay sessions.
type RateLimitConfig struct {
	GlobalRPS     float64
	GlobalBurst   int
	ConnectLimit  int
	ConnectWindow time.Duration
	// Store, when set, shares connect counts across instances. Nil keeps
	// the counters in process memory.
	Store ConnectStore
}

// ConnectStore counts session-open attempts per key within a rolling
// window.
type ConnectStore interface {
	Allow(key string, limit int, window time.Duration) (bool, time.Duration, error)
}

type rateLimiter struct {
	global         *tokenBucket
	connectLimit   int
	connectWindow  time.Duration
	connectMu      sync.Mutex
	connectBuckets map[string]*ipLimiter
	store          ConnectStore
}

type ipLimiter struct {
	bucket   *tokenBucket
	lastSeen time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{
		connectLimit:   cfg.ConnectLimit,
		connectWindow:  cfg.ConnectWindow,
		connectBuckets: make(map[string]*ipLimiter),
		store:          cfg.Store,
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = newTokenBucket(cfg.GlobalRPS, burst)
	}
	if rl.connectWindow <= 0 {
		rl.connectWindow = time.Minute
	}
	return rl
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

func (r *rateLimiter) AllowConnect(key string) (bool, time.Duration, error) {
	if r == nil || r.connectLimit <= 0 {
		return true, 0, nil
	}
	if key == "" {
		key = "unknown"
	}
	if r.store != nil {
		return r.store.Allow("relaycast:connect:"+key, r.connectLimit, r.connectWindow)
	}
	r.connectMu.Lock()
	entry, exists := r.connectBuckets[key]
	if !exists {
		rate := float64(r.connectLimit) / r.connectWindow.Seconds()
		if rate <= 0 {
			rate = 1 / r.connectWindow.Seconds()
		}
		entry = &ipLimiter{bucket: newTokenBucket(rate, r.connectLimit)}
		r.connectBuckets[key] = entry
	}
	entry.lastSeen = time.Now()
	r.cleanupLocked()
	r.connectMu.Unlock()

	if entry.bucket.Allow() {
		return true, 0, nil
	}
	return false, time.Second, nil
}

func (r *rateLimiter) cleanupLocked() {
	if len(r.connectBuckets) == 0 {
		return
	}
	cutoff := time.Now().Add(-2 * r.connectWindow)
	for key, entry := range r.connectBuckets {
		if entry.lastSeen.Before(cutoff) {
			delete(r.connectBuckets, key)
		}
	}
}

func rateLimitMiddleware(limiter *rateLimiter, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.AllowRequest() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		if r.URL.Path == "/api/stream/ws" {
			allowed, retryAfter, err := limiter.AllowConnect(clientIP(r))
			if err != nil {
				logger.Warn("connect rate limit check failed", "error", err)
			} else if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter/time.Second)+1))
				}
				http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type tokenBucket struct {
	mu        sync.Mutex
	rate      float64
	capacity  float64
	tokens    float64
	lastCheck time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &tokenBucket{
		rate:      rate,
		capacity:  float64(burst),
		tokens:    float64(burst),
		lastCheck: time.Now(),
	}
}

func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(tb.lastCheck).Seconds()
	tb.lastCheck = now
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	if tb.tokens < 1 {
		return false
	}
	tb.tokens -= 1
	return true
}
