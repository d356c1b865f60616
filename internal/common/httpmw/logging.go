package httpmw

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ideate/ideate/internal/common/logger"
)

// isWebSocketUpgrade reports whether the request asks to switch protocols.
// The upgrade handler does not return until the socket closes, so the
// middleware treats it as a connection rather than a request/response pair.
func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// RequestLogger logs page loads after the handler returns and WebSocket
// connections on open and close.
func RequestLogger(log *logger.Logger, serverName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		if isWebSocketUpgrade(c.Request) {
			log.Debug("websocket connecting",
				zap.String("server", serverName),
				zap.String("path", path),
				zap.String("remote", c.ClientIP()))
			c.Next()
			log.Debug("websocket closed",
				zap.String("server", serverName),
				zap.String("path", path),
				zap.Int64("connected_ms", time.Since(start).Milliseconds()))
			return
		}

		c.Next()

		status := c.Writer.Status()
		size := c.Writer.Size()
		if size < 0 {
			size = 0
		}

		fields := []zap.Field{
			zap.String("server", serverName),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int("bytes", size),
		}
		if status >= 500 {
			log.Error("http", fields...)
		} else {
			log.Debug("http", fields...)
		}
	}
}
