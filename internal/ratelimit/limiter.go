package ratelimit

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter denies requests above limit per window per key.
type Limiter struct {
	store  Store
	max    int
	window time.Duration
}

// New returns a Limiter over store.
func New(store Store, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, max: limit, window: window}
}

// Allow counts a hit for key and reports whether it fits in the window.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	n, resetAt, err := l.store.Incr(ctx, key, l.window)
	if err != nil {
		return Decision{Allowed: true, Limit: l.max, Remaining: l.max}, err
	}
	remaining := l.max - int(n)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: int(n) <= l.max, Limit: l.max, Remaining: remaining, ResetAt: resetAt}, nil
}

// KeyFunc derives the limiter key for a request.
type KeyFunc func(c *gin.Context) string

// ByUserOrIP keys on the authenticated user when present, otherwise on the client IP.
func ByUserOrIP(c *gin.Context) string {
	if uid := c.GetString("user_id"); uid != "" {
		return "user:" + uid
	}
	return "ip:" + c.ClientIP()
}

// Middleware enforces l on every request under scope. Store failures let the request through.
func Middleware(l *Limiter, scope string, key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := l.Allow(c.Request.Context(), scope+":"+key(c))
		if err != nil {
			log.Printf("[ratelimit] store error, allowing request: %v", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			retry := int(time.Until(d.ResetAt).Seconds() + 0.999)
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limited",
				"message":     "Too many requests. Please slow down.",
				"retry_after": retry,
			})
			return
		}
		c.Next()
	}
}
