package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/recruitflow/relay/internal/observability"
)

// Metrics 返回 HTTP 指标中间件
// 记录请求总数、延迟直方图和错误数
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := c.Request.Context()

		observability.RecordHTTPRequest(ctx)
		c.Next()

		observability.RecordHTTPRequestDuration(ctx, time.Since(start))
		if c.Writer.Status() >= 500 {
			observability.RecordHTTPError(ctx)
		}
	}
}
