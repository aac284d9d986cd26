package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ulule/limiter/v3"
)

type contextKey string

const loggerKey = contextKey("logger")

// RequestLogger は request_id 付きロガーを gin コンテキストへ注入し、
// 完了時にステータスとレイテンシを1行出力する。
func RequestLogger(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.NewString()

		l := base.With(
			slog.String("request_id", requestID),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
		)

		c.Header("X-Request-ID", requestID)
		c.Set(string(loggerKey), l)

		c.Next()

		l.Info("request completed",
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

// Logger は RequestLogger が注入したロガーを取り出す。未注入なら既定ロガー。
func Logger(c *gin.Context) *slog.Logger {
	v, ok := c.Get(string(loggerKey))
	if !ok {
		return slog.Default()
	}
	l, ok := v.(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return l
}

// RateLimit はクライアントIP単位の流量制限。上限到達で 429。
func RateLimit(instance *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		lctx, err := instance.Get(c.Request.Context(), ip)
		if err != nil {
			Logger(c).Error("rate limit check failed",
				slog.String("ip", ip), slog.String("error", err.Error()))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if lctx.Reached {
			Logger(c).Warn("rate limit exceeded",
				slog.String("ip", ip), slog.Int64("limit", lctx.Limit))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}

		c.Next()
	}
}
