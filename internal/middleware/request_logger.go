// Package middleware holds gin middleware shared by every route.
package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mantonx/rtsphls/internal/logger"
)

// maxLoggedBody caps how much of a request body is logged
const maxLoggedBody = 1024

// RequestLogger logs every request at debug level. Health checks and HLS
// artifact fetches are skipped; players poll them several times a second.
func RequestLogger(quietPrefixes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/api/health" || hasAnyPrefix(path, quietPrefixes) {
			c.Next()
			return
		}

		start := time.Now()

		var bodyBytes []byte
		if c.Request.Body != nil && c.Request.Method == "POST" {
			bodyBytes, _ = io.ReadAll(io.LimitReader(c.Request.Body, maxLoggedBody+1))
			rest := c.Request.Body
			c.Request.Body = readCloser{io.MultiReader(bytes.NewReader(bodyBytes), rest), rest}
			if len(bodyBytes) > maxLoggedBody {
				bodyBytes = append(bodyBytes[:maxLoggedBody:maxLoggedBody], "..."...)
			}
		}

		logger.Debug("HTTP Request",
			"request_id", c.GetString(RequestIDKey),
			"method", c.Request.Method,
			"path", path,
			"query", c.Request.URL.RawQuery,
			"body", string(bodyBytes),
			"ip", c.ClientIP(),
		)

		c.Next()

		logger.Debug("HTTP Response",
			"request_id", c.GetString(RequestIDKey),
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"size", c.Writer.Size(),
		)
	}
}

// ErrorLogger logs errors attached to the context by handlers
func ErrorLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		for _, err := range c.Errors {
			logger.Warn("Request error",
				"request_id", c.GetString(RequestIDKey),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"status", c.Writer.Status(),
				"error", err.Error(),
			)
		}
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
