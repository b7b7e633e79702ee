// Package auth 提供 JWT 令牌的签发与校验
// 服务侧只做校验：令牌由上游身份服务签发，这里持有同一 HS256 密钥
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal 令牌校验通过后得到的身份信息
type Principal struct {
	UserID      string
	DisplayName string
	Role        string
}

// Claims JWT 载荷
type Claims struct {
	DisplayName string `json:"name"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier 负责校验 Bearer 令牌
type Verifier struct {
	secret []byte
}

// NewVerifier 创建 Verifier，secret 不能为空
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret cannot be empty")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify 校验令牌并返回身份信息
// 签名无效、已过期或算法不符都返回错误
func (v *Verifier) Verify(tokenString string) (*Principal, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token missing subject")
	}

	return &Principal{
		UserID:      claims.Subject,
		DisplayName: claims.DisplayName,
		Role:        claims.Role,
	}, nil
}

// Issue 用同一密钥签发令牌，开发环境和测试用
func (v *Verifier) Issue(userID, displayName, role string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user_id cannot be empty")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	now := time.Now()
	claims := &Claims{
		DisplayName: displayName,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
