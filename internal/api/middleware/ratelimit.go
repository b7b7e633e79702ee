package middleware

import (
	"fmt"
	"net/http"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/ratelimit"
	"github.com/gin-gonic/gin"
)

// RateLimitConfig 限流中间件配置
type RateLimitConfig struct {
	limiter ratelimit.Limiter
	logger  clog.Logger
}

// NewRateLimitConfig 创建限流配置
func NewRateLimitConfig(limiter ratelimit.Limiter, logger clog.Logger) *RateLimitConfig {
	return &RateLimitConfig{
		limiter: limiter,
		logger:  logger,
	}
}

// UserBased 基于用户的限流中间件
// 必须在 Auth 中间件之后使用
func (r *RateLimitConfig) UserBased(pathLimits map[string]ratelimit.Limit, defaultLimit ratelimit.Limit) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := GetUserID(c)
		if !ok {
			r.logger.Warn("user-based ratelimit used without auth middleware",
				clog.String("path", c.FullPath()),
			)
			c.Next()
			return
		}

		limit, ok := pathLimits[c.FullPath()]
		if !ok {
			limit = defaultLimit
		}

		key := fmt.Sprintf("user:%s:path:%s", userID, c.FullPath())

		allowed, err := r.limiter.Allow(c.Request.Context(), key, limit)
		if err != nil {
			r.logger.Error("ratelimit check failed", clog.Error(err))
			// 降级：限流器出错时放行
			c.Next()
			return
		}

		if !allowed {
			r.logger.Warn("rate limit exceeded",
				clog.String("user_id", userID),
				clog.String("path", c.FullPath()),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}

// GlobalIP 全局 IP 限流中间件，所有请求共享一个限流池
func (r *RateLimitConfig) GlobalIP(limit ratelimit.Limit) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("global_ip:%s", c.ClientIP())

		allowed, err := r.limiter.Allow(c.Request.Context(), key, limit)
		if err != nil {
			r.logger.Error("global ratelimit check failed", clog.Error(err))
			c.Next()
			return
		}

		if !allowed {
			r.logger.Warn("global rate limit exceeded",
				clog.String("client_ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}

// PredefinedRateLimits 预定义的限流规则
var PredefinedRateLimits = struct {
	// 写操作（用户级别限流）
	WriteUserLimits map[string]ratelimit.Limit
	// 默认限流规则
	DefaultLimit ratelimit.Limit
}{
	WriteUserLimits: map[string]ratelimit.Limit{
		"/api/threads": {
			Rate:  10, // 建组
			Burst: 20,
		},
		"/api/threads/:id/messages": {
			Rate:  30, // 发消息
			Burst: 60,
		},
		"/api/presence": {
			Rate:  20, // 状态上报
			Burst: 40,
		},
	},
	DefaultLimit: ratelimit.Limit{
		Rate:  100,
		Burst: 200,
	},
}
