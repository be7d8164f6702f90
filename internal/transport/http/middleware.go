package http

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LoggingMiddleware prints request/response metrics, keyed by the same
// client IP the rate limiter buckets on.
func LoggingMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ip, _, _ := net.SplitHostPort(c.Request.RemoteAddr)
		log.Infof("%s %s %d %s ip=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start), ip)
	}
}

type rateClient struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware is a token bucket per client IP. Buckets idle longer
// than limiterIdleAfter are swept out once the map grows past
// limiterSweepAt, so long-running servers do not accumulate one limiter
// per IP they ever saw.
const (
	limiterIdleAfter = 10 * time.Minute
	limiterSweepAt   = 4096
)

func RateLimitMiddleware(rps, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	clients := make(map[string]*rateClient)
	return func(c *gin.Context) {
		ip, _, _ := net.SplitHostPort(c.Request.RemoteAddr)
		now := time.Now()
		mu.Lock()
		cl, ok := clients[ip]
		if !ok {
			if len(clients) >= limiterSweepAt {
				for k, v := range clients {
					if now.Sub(v.lastSeen) > limiterIdleAfter {
						delete(clients, k)
					}
				}
			}
			cl = &rateClient{lim: rate.NewLimiter(rate.Limit(rps), burst)}
			clients[ip] = cl
		}
		cl.lastSeen = now
		mu.Unlock()
		if !cl.lim.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
