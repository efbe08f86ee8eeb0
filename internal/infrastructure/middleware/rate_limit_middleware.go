package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"castmix/pkg/config"
	"castmix/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// rateLimiterStore stores per-key (for example, per IP) rate limiters.
type rateLimiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	rate      rate.Limit
	burstSize int
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters:  make(map[string]*rate.Limiter),
		rate:      r,
		burstSize: burst,
	}
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, exists := s.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(s.rate, s.burstSize)
		s.limiters[key] = limiter
	}
	return limiter
}

// clientIP extracts the IP part from the request's remote address.
func clientIP(r *http.Request) string {
	// Try X-Forwarded-For first (behind proxies). The left-most entry is the client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func passThrough(c *gin.Context) { c.Next() }

func concurrencyGuard(max int) func(c *gin.Context) bool {
	if max <= 0 {
		return func(*gin.Context) bool { return true }
	}
	sem := make(chan struct{}, max)
	return func(c *gin.Context) bool {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			c.Next()
			return true
		default:
			appErr := errors.NewServiceUnavailableError("too many concurrent requests")
			c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
				"error":   string(appErr.Code),
				"message": appErr.Message,
			})
			return false
		}
	}
}

func abortRateLimited(c *gin.Context, retryAfter time.Duration) {
	appErr := errors.NewRateLimitError()
	c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	})
}

// NewHTTPRateLimitMiddleware returns Gin middleware that applies simple IP-based rate limiting.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return passThrough
	}

	store := newRateLimiterStore(rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond), cfg.RateLimiting.HTTP.Burst)
	guard := concurrencyGuard(cfg.RateLimiting.HTTP.MaxConcurrent)

	return func(c *gin.Context) {
		if !store.getLimiter(clientIP(c.Request)).Allow() {
			abortRateLimited(c, time.Second)
			return
		}
		guard(c)
	}
}

// NewWebSocketUpgradeLimitMiddleware limits how often one client may open
// pointer connections and how many may be open at once. Limits on the
// messages inside a connection are applied by the signal server.
func NewWebSocketUpgradeLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return passThrough
	}

	perMinute := cfg.RateLimiting.WebSocket.ConnectionsPerMinute
	store := newRateLimiterStore(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	guard := concurrencyGuard(cfg.RateLimiting.WebSocket.MaxConcurrent)

	return func(c *gin.Context) {
		if !store.getLimiter(clientIP(c.Request)).Allow() {
			abortRateLimited(c, time.Minute/time.Duration(perMinute))
			return
		}
		guard(c)
	}
}
