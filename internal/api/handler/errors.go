package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/credit_ledger_server/internal/api/middleware"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
	"github.com/qs3c/credit_ledger_server/internal/pkg/response"
	"github.com/qs3c/credit_ledger_server/internal/service"
)

// writeError 将业务错误映射为 HTTP 错误响应，消息不包含内部细节
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, ident.ErrInvalidIdentifier):
		response.IdentifierError(c, "")
	case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, service.ErrInvalidCursor):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrInsufficientCredits):
		response.InsufficientCredits(c, "")
	case errors.Is(err, service.ErrUnknownPack):
		response.Error(c, response.CodePricingFailed, "")
	case errors.Is(err, service.ErrInvalidSignature):
		response.Error(c, response.CodeInvalidSignature, "")
	case errors.Is(err, service.ErrQuotaExceeded):
		response.QuotaError(c, "")
	case errors.Is(err, service.ErrGatewayTimeout):
		response.GatewayError(c, "payment gateway timed out, failed to confirm")
	case errors.Is(err, service.ErrGatewayUnavailable):
		response.GatewayError(c, "")
	case errors.Is(err, gorm.ErrRecordNotFound):
		response.NotFoundError(c, "")
	default:
		logger.Error("request failed", zap.String("route", c.FullPath()), zap.Error(err))
		response.ServerError(c, "")
	}
}

// resolveAccount 认证账户优先，请求中显式给出的账户必须与之相同
func resolveAccount(c *gin.Context, supplied string) (ident.AccountID, bool) {
	accountID, ok := middleware.GetAccountID(c)
	if !ok {
		response.AuthError(c, "")
		return "", false
	}
	if supplied == "" {
		return accountID, true
	}
	requested, err := ident.ParseAccountID(supplied)
	if err != nil {
		response.IdentifierError(c, "")
		return "", false
	}
	if requested != accountID {
		response.PermissionError(c, "")
		return "", false
	}
	return accountID, true
}
