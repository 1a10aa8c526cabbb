package logger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-Id"
	ginKey          = "logger"
)

// Middleware gives every request a logger tagged with its request id and the
// call it addresses, then writes one access line when the handler returns.
// Server errors log at error level, client errors at warn, health probes at debug.
func Middleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(headerRequestID, rid)

		l := base.With(slog.String("request_id", rid))
		if callID := c.Param("callId"); callID != "" {
			l = l.With(slog.String("call_id", callID))
		}
		c.Set(ginKey, l)
		c.Request = c.Request.WithContext(With(c.Request.Context(), l))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", route),
			slog.Int("status", status),
			slog.Duration("took", time.Since(start)),
		}
		if uid := c.GetString("user_id"); uid != "" {
			attrs = append(attrs, slog.String("user_id", uid))
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}
		l.LogAttrs(c.Request.Context(), accessLevel(route, status, len(c.Errors) > 0), "request", attrs...)
	}
}

func accessLevel(route string, status int, hadErrors bool) slog.Level {
	switch {
	case status >= http.StatusInternalServerError || hadErrors:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case route == "/healthz":
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// FromGin returns the request logger set by Middleware, or slog.Default.
func FromGin(c *gin.Context) *slog.Logger {
	if l, ok := c.Value(ginKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return From(c.Request.Context())
}
