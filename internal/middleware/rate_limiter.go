package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mroshb/clan_portal/internal/httpx"
	"github.com/mroshb/clan_portal/internal/security"
	"github.com/mroshb/clan_portal/pkg/errors"
)

// RateLimiter is a fixed-window limiter keyed by Telegram user ID and by
// client IP. It guards writes from the web portal and bot interactions.
type RateLimiter struct {
	userLimits map[int64]*window
	ipLimits   map[string]*window
	mu         sync.Mutex

	userMaxRequests int
	ipMaxRequests   int
	window          time.Duration

	stop chan struct{}
	once sync.Once
}

type window struct {
	requests  int
	resetTime time.Time
}

// NewRateLimiter starts a limiter with a background cleanup loop. Call Stop
// to end it.
func NewRateLimiter(userMaxRequests, ipMaxRequests int, period time.Duration) *RateLimiter {
	rl := &RateLimiter{
		userLimits:      make(map[int64]*window),
		ipLimits:        make(map[string]*window),
		userMaxRequests: userMaxRequests,
		ipMaxRequests:   ipMaxRequests,
		window:          period,
		stop:            make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// CheckUserLimit counts one request for the user and reports whether it is
// allowed.
func (rl *RateLimiter) CheckUserLimit(userID int64) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return take(rl.userLimits, userID, rl.userMaxRequests, rl.window)
}

// CheckIPLimit counts one request for the IP and reports whether it is
// allowed.
func (rl *RateLimiter) CheckIPLimit(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return take(rl.ipLimits, ip, rl.ipMaxRequests, rl.window)
}

func take[K comparable](limits map[K]*window, key K, max int, period time.Duration) bool {
	now := time.Now()
	limit, exists := limits[key]
	if !exists || now.After(limit.resetTime) {
		limits[key] = &window{requests: 1, resetTime: now.Add(period)}
		return true
	}
	if limit.requests >= max {
		return false
	}
	limit.requests++
	return true
}

// GetUserRemaining returns remaining requests for user
func (rl *RateLimiter) GetUserRemaining(userID int64) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit, exists := rl.userLimits[userID]
	if !exists || time.Now().After(limit.resetTime) {
		return rl.userMaxRequests
	}

	remaining := rl.userMaxRequests - limit.requests
	if remaining < 0 {
		return 0
	}
	return remaining
}

// LimitWrites rejects state-changing requests over the limit with 429.
// Authenticated callers are limited per user, anonymous ones per IP.
func (rl *RateLimiter) LimitWrites(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		var allowed bool
		if p := security.PrincipalFrom(r.Context()); p != nil {
			allowed = rl.CheckUserLimit(p.TelegramID)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.GetUserRemaining(p.TelegramID)))
		} else {
			allowed = rl.CheckIPLimit(clientIP(r))
		}
		if !allowed {
			httpx.WriteError(w, r, errors.New(errors.ErrCodeRateLimitExceeded, "too many requests"))
			return
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

// cleanup removes expired entries
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
		}

		rl.mu.Lock()
		now := time.Now()
		for userID, limit := range rl.userLimits {
			if now.After(limit.resetTime) {
				delete(rl.userLimits, userID)
			}
		}
		for ip, limit := range rl.ipLimits {
			if now.After(limit.resetTime) {
				delete(rl.ipLimits, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// Reset clears all rate limits (useful for testing)
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.userLimits = make(map[int64]*window)
	rl.ipLimits = make(map[string]*window)
}
