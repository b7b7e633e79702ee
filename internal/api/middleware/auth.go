package middleware

import (
	"net/http"
	"strings"

	"github.com/ceyewan/genesis/clog"
	"github.com/gin-gonic/gin"
	"github.com/recruitflow/relay/internal/auth"
)

const (
	// UserIDKey 上下文中存储用户 ID 的键
	UserIDKey = "user_id"
	// PrincipalKey 上下文中存储完整身份信息的键
	PrincipalKey = "principal"
)

// AuthConfig 认证中间件配置
type AuthConfig struct {
	verifier *auth.Verifier
	logger   clog.Logger
}

// NewAuthConfig 创建认证配置
func NewAuthConfig(verifier *auth.Verifier, logger clog.Logger) *AuthConfig {
	return &AuthConfig{
		verifier: verifier,
		logger:   logger,
	}
}

// RequireAuth 返回一个需要认证的中间件
// 从请求头或查询参数中获取 token 并校验
func (a *AuthConfig) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := a.extractAndVerify(c)
		if err != nil {
			a.logger.Warn("authentication failed",
				clog.String("client_ip", c.ClientIP()),
				clog.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "unauthorized: " + err.Error(),
			})
			return
		}

		c.Set(UserIDKey, principal.UserID)
		c.Set(PrincipalKey, principal)
		c.Next()
	}
}

// extractAndVerify 从请求中提取并校验 token
func (a *AuthConfig) extractAndVerify(c *gin.Context) (*auth.Principal, error) {
	token := c.GetHeader("Authorization")
	if token != "" {
		if strings.HasPrefix(token, "Bearer ") {
			token = strings.TrimPrefix(token, "Bearer ")
		}
	} else {
		token = c.Query("token")
	}

	if token == "" {
		return nil, ErrMissingToken
	}

	principal, err := a.verifier.Verify(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return principal, nil
}

// GetUserID 从上下文获取用户 ID
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}
	return userID.(string), true
}

// MustGetUserID 从上下文获取用户 ID，不存在则 panic
// 只应在 RequireAuth 之后的处理器中使用
func MustGetUserID(c *gin.Context) string {
	userID, exists := GetUserID(c)
	if !exists {
		panic("user_id not found in context")
	}
	return userID
}

// 错误定义
var (
	ErrMissingToken = &AuthError{Message: "missing authentication token"}
	ErrInvalidToken = &AuthError{Message: "invalid authentication token"}
)

// AuthError 认证错误
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}
