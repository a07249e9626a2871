package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"PortfolioFeed/internal/metrics"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// requestID propagates an incoming request id or assigns a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// accessLog logs each request once it has been served and records its metrics.
func accessLog(log logrus.FieldLogger, rec *metrics.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		d := time.Since(start)
		route := c.FullPath()
		status := c.Writer.Status()
		rec.HTTPRequest(c.Request.Method, route, status, d)

		entry := log.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"duration":   d,
			"client":     c.ClientIP(),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("request failed")
		case status == http.StatusTooManyRequests:
			entry.Warn("request rate limited")
		default:
			entry.Debug("request served")
		}
	}
}

// ClientLimiter keeps one token bucket per client address.
type ClientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientEntry
	rate     rate.Limit
	burst    int
	idle     time.Duration
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientLimiter creates a limiter allowing requestsPerSecond per client with
// the given burst. A non-positive rate disables limiting.
func NewClientLimiter(requestsPerSecond float64, burst int) *ClientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ClientLimiter{
		limiters: make(map[string]*clientEntry),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		idle:     10 * time.Minute,
	}
}

// Allow reports whether key may make a request now.
func (l *ClientLimiter) Allow(key string) bool {
	if l.rate <= 0 {
		return true
	}
	l.mu.Lock()
	e, ok := l.limiters[key]
	if !ok {
		e = &clientEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()
	return e.limiter.Allow()
}

// Cleanup drops the buckets of clients idle for longer than the idle window.
func (l *ClientLimiter) Cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.limiters {
		if now.Sub(e.lastSeen) > l.idle {
			delete(l.limiters, key)
		}
	}
}

// Middleware rejects requests over the client's allowance with 429.
func (l *ClientLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
