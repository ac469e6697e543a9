package admin

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/emperorhan/rwa-custody/internal/metrics"
)

const (
	// staleLimiterTTL is how long a per-IP limiter can be idle before cleanup.
	staleLimiterTTL = 10 * time.Minute

	cleanupInterval = 1 * time.Minute

	defaultEndpointKey = "default"
)

type endpointLimit struct {
	rps   rate.Limit
	burst int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware limits requests per client IP and endpoint class.
// Privileged compliance endpoints get their own, tighter buckets.
type RateLimitMiddleware struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry // key: "endpoint|clientIP"
	rules    []endpointRule
	fallback endpointLimit
	logger   *slog.Logger
	nowFunc  func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
}

// endpointRule matches on method and path suffix, since asset routes carry
// the asset address in the middle of the path.
type endpointRule struct {
	method string
	suffix string
	limit  endpointLimit
}

func (r endpointRule) key() string { return r.method + ":" + r.suffix }

// NewRateLimitMiddleware starts a background sweeper for idle limiters; call
// Stop to release it.
func NewRateLimitMiddleware(logger *slog.Logger, rps float64, burst int) *RateLimitMiddleware {
	rl := &RateLimitMiddleware{
		limiters: make(map[string]*limiterEntry),
		fallback: endpointLimit{rps: rate.Limit(rps), burst: burst},
		logger:   logger.With("component", "api_ratelimit"),
		nowFunc:  time.Now,
		stopCh:   make(chan struct{}),
		rules: []endpointRule{
			{method: http.MethodPost, suffix: "/wipe", limit: endpointLimit{rps: rate.Limit(10.0 / 60), burst: 2}},
			{method: http.MethodPut, suffix: "/mint-authority", limit: endpointLimit{rps: rate.Limit(1.0 / 60), burst: 1}},
			{method: http.MethodPut, suffix: "/admin", limit: endpointLimit{rps: rate.Limit(1.0 / 60), burst: 1}},
			{method: http.MethodPost, suffix: "/pause", limit: endpointLimit{rps: rate.Limit(6.0 / 60), burst: 2}},
		},
	}

	go rl.cleanupLoop()
	return rl
}

// Stop shuts down the cleanup goroutine. Safe to call multiple times.
func (rl *RateLimitMiddleware) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
}

func (rl *RateLimitMiddleware) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.evictStale()
		}
	}
}

func (rl *RateLimitMiddleware) evictStale() {
	now := rl.nowFunc()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > staleLimiterTTL {
			delete(rl.limiters, key)
		}
	}
}

// LimiterCount returns the number of live limiter entries.
func (rl *RateLimitMiddleware) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := extractClientIP(r)
		rule, limit := rl.resolve(r.Method, r.URL.Path)
		limiter := rl.getOrCreateLimiter(rule+"|"+clientIP, limit)

		if !limiter.Allow() {
			metrics.AdminRateLimitedTotal.WithLabelValues(rule).Inc()
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			rl.logger.Warn("custody API rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", clientIP,
			)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractClientIP checks X-Forwarded-For (first entry), X-Real-IP, then RemoteAddr.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *RateLimitMiddleware) resolve(method, path string) (string, endpointLimit) {
	path = strings.TrimSuffix(path, "/")
	for _, rule := range rl.rules {
		if !strings.EqualFold(rule.method, method) || !strings.HasSuffix(path, rule.suffix) {
			continue
		}
		return rule.key(), rule.limit
	}
	return defaultEndpointKey, rl.fallback
}

func (rl *RateLimitMiddleware) getOrCreateLimiter(key string, limit endpointLimit) *rate.Limiter {
	now := rl.nowFunc()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if entry, ok := rl.limiters[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}

	limiter := rate.NewLimiter(limit.rps, limit.burst)
	rl.limiters[key] = &limiterEntry{limiter: limiter, lastSeen: now}
	return limiter
}
