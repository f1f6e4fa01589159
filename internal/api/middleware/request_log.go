package middleware

import (
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
)

// RequestLogger emits one line per request after the handler chain ran.
//
// The username attribute is only populated on routes behind
// AuthMiddleware; on public routes it logs empty.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if logger == nil {
			return
		}

		// Route pattern keeps VINs and user IDs out of the log key
		// space; unmatched requests have no pattern, fall back to the
		// raw path.
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		logger.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("status", c.Writer.Status()),
			slog.String("client_ip", c.ClientIP()),
			slog.String("user", c.GetString("username")),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
