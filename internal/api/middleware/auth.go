package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
	"github.com/qs3c/credit_ledger_server/internal/pkg/jwt"
	"github.com/qs3c/credit_ledger_server/internal/pkg/response"
)

const (
	AccountIDKey = "accountID"
)

// Auth JWT 认证中间件，账户 ID 取自 sub
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.AbortError(c, response.CodeUnauthorized, "missing authorization header")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			response.AbortError(c, response.CodeUnauthorized, "malformed authorization header")
			return
		}

		claims, err := jwt.ParseToken(tokenString, jwtSecret)
		if err != nil {
			response.AbortError(c, response.CodeUnauthorized, "invalid or expired token")
			return
		}

		accountID, err := ident.ParseAccountID(claims.AccountID())
		if err != nil {
			response.AbortError(c, response.CodeInvalidIdentifier, "")
			return
		}

		c.Set(AccountIDKey, accountID)
		c.Next()
	}
}

// OptionalAuth 可选认证中间件，令牌无效时按匿名处理
func OptionalAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			c.Next()
			return
		}

		claims, err := jwt.ParseToken(tokenString, jwtSecret)
		if err == nil {
			if accountID, err := ident.ParseAccountID(claims.AccountID()); err == nil {
				c.Set(AccountIDKey, accountID)
			}
		}

		c.Next()
	}
}

// GetAccountID 从上下文获取账户 ID
func GetAccountID(c *gin.Context) (ident.AccountID, bool) {
	v, exists := c.Get(AccountIDKey)
	if !exists {
		return "", false
	}
	id, ok := v.(ident.AccountID)
	return id, ok
}
