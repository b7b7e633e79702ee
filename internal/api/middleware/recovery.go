package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/ceyewan/genesis/clog"
	"github.com/gin-gonic/gin"
)

// Recovery 返回一个恢复中间件，捕获 panic 并防止服务崩溃
func Recovery(logger clog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				stack := debug.Stack()

				logger.Error("panic recovered",
					clog.Any("error", err),
					clog.String("path", c.Request.URL.Path),
					clog.String("method", c.Request.Method),
					clog.String("client_ip", c.ClientIP()),
					clog.String("stack", string(stack)),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error":   "internal server error",
				})
			}
		}()

		c.Next()
	}
}
