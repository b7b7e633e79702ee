package middleware

import (
	"context"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/idgen"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// TraceIDHeader 透传 trace_id 的请求头
	TraceIDHeader = "X-Trace-ID"
)

type traceIDKey struct{}

// TraceIDKey 注入 Context 的 trace_id 键
var TraceIDKey = traceIDKey{}

// Logger 返回一个请求日志中间件
// 记录请求方法、路径、状态码、耗时、客户端 IP 等
// 同时负责 trace_id 的生成和注入
func Logger(logger clog.Logger, idgen idgen.Generator) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = idgen.NextString()
		}
		c.Set("trace_id", traceID)
		c.Header(TraceIDHeader, traceID)

		ctx := context.WithValue(c.Request.Context(), TraceIDKey, traceID)
		c.Request = c.Request.WithContext(ctx)

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("RequestID", requestID)
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		fields := []clog.Field{
			clog.String("request_id", requestID),
			clog.String("method", c.Request.Method),
			clog.String("path", path),
			clog.String("query", query),
			clog.Int("status", c.Writer.Status()),
			clog.String("client_ip", c.ClientIP()),
			clog.String("user_agent", c.Request.UserAgent()),
			clog.Duration("latency", latency),
		}

		if userID, exists := c.Get(UserIDKey); exists {
			fields = append(fields, clog.String("user_id", userID.(string)))
		}

		// 按状态码选择日志级别，Context 变体自动带上 trace_id
		switch {
		case c.Writer.Status() >= 500:
			logger.ErrorContext(ctx, "server error", fields...)
		case c.Writer.Status() >= 400:
			logger.WarnContext(ctx, "client error", fields...)
		default:
			logger.InfoContext(ctx, "request", fields...)
		}
	}
}

// SkipLogger 返回一个可以跳过某些路径的日志中间件
func SkipLogger(logger clog.Logger, idgen idgen.Generator, skipPaths map[string]struct{}) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := skipPaths[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		Logger(logger, idgen)(c)
	}
}

// SlowQueryDetector 慢请求检测中间件
// 当请求超过指定阈值时，记录警告日志
func SlowQueryDetector(logger clog.Logger, threshold time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		if latency > threshold {
			logger.Warn("slow request detected",
				clog.String("path", c.Request.URL.Path),
				clog.String("method", c.Request.Method),
				clog.Duration("latency", latency),
				clog.Int("status", c.Writer.Status()),
			)
		}
	}
}
