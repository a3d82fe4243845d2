package http

import (
	"strings"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/infra/observability"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// LoggingMiddleware logs each request and records its metrics under the
// matched route pattern.
func LoggingMiddleware(logger logging.Logger, metrics *observability.Metrics) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		metrics.HTTPRequest(c.Request.Method, route, status, elapsed)
		if route == "/health" || route == "/metrics" {
			return
		}
		logger.Info("%s %s -> %d (%s) from %s", c.Request.Method, c.Request.URL.Path, status, elapsed.Round(time.Millisecond), c.ClientIP())
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With", "X-Tamias-Signature"}
	cfg.AllowWebSockets = true
	if allowAllOrigins(origins) {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func allowAllOrigins(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, origin := range origins {
		if strings.TrimSpace(origin) == "*" {
			return true
		}
	}
	return false
}
