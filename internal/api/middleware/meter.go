package middleware

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/credit_ledger_server/internal/model"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
	"github.com/qs3c/credit_ledger_server/internal/pkg/response"
	"github.com/qs3c/credit_ledger_server/internal/service"
)

const (
	HeaderDeviceID    = "X-Device-ID"
	HeaderFingerprint = "X-Device-Fingerprint"
	HeaderPageCount   = "X-Page-Count"

	ToolKey        = "tool"
	ReservationKey = "reservation_id"

	maxPageCount = 10000
	megabyte     = 1 << 20
)

// Meter 计费工具的授权：登录用户按积分预留，匿名设备按月度额度计数
func Meter(billing *service.BillingService, quota *service.QuotaService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tool, err := billing.Tool(c.Param("tool"))
		if err != nil {
			response.AbortError(c, response.CodeNotFound, "unknown tool")
			return
		}
		c.Set(ToolKey, tool)

		if accountID, ok := GetAccountID(c); ok {
			meterCredits(c, billing, logger, accountID, tool)
			return
		}
		meterQuota(c, quota)
	}
}

func meterCredits(c *gin.Context, billing *service.BillingService, logger *zap.Logger, accountID ident.AccountID, tool service.ToolPricing) {
	pages, err := pageCount(c.GetHeader(HeaderPageCount))
	if err != nil {
		response.AbortError(c, response.CodeInvalidRequest, "invalid page count")
		return
	}

	res, err := billing.Reserve(c.Request.Context(), accountID, tool.Cost(pages), tool.Name)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInsufficientCredits):
			response.AbortError(c, response.CodeInsufficientCredits, "")
		case errors.Is(err, service.ErrInvalidIdentifier):
			response.AbortError(c, response.CodeInvalidIdentifier, "")
		default:
			logger.Error("reserve credits failed", zap.String("account_id", accountID.String()), zap.Error(err))
			response.AbortError(c, response.CodeServerError, "")
		}
		return
	}
	c.Set(ReservationKey, res.ID)

	c.Next()

	// 上游成功则结算，否则释放；客户端断开不影响结算
	ctx := context.WithoutCancel(c.Request.Context())
	if c.Writer.Status() < billing.CommitBelow() && len(c.Errors) == 0 {
		if err := billing.Commit(ctx, res.ID); err != nil {
			logger.Error("commit reservation failed", zap.String("reservation_id", res.ID), zap.Error(err))
		}
		return
	}
	if err := billing.Release(ctx, res.ID); err != nil {
		logger.Error("release reservation failed", zap.String("reservation_id", res.ID), zap.Error(err))
	}
}

func meterQuota(c *gin.Context, quota *service.QuotaService) {
	deviceID, err := ident.ParseDeviceID(c.GetHeader(HeaderDeviceID))
	if err != nil {
		response.AbortError(c, response.CodeInvalidIdentifier, "device id required for anonymous use")
		return
	}

	ctx := c.Request.Context()
	ip := c.ClientIP()
	if _, err := quota.GetOrCreate(ctx, deviceID, c.GetHeader(HeaderFingerprint), ip); err != nil {
		response.AbortError(c, response.CodeServerError, "")
		return
	}

	if !checkQuota(c, quota.CheckAndIncrement(ctx, deviceID, ip, model.FeatureOperations, 1)) {
		return
	}
	if c.Request.ContentLength > 0 {
		mb := (c.Request.ContentLength + megabyte - 1) / megabyte
		if !checkQuota(c, quota.CheckAndIncrement(ctx, deviceID, ip, model.FeatureUploadMB, mb)) {
			return
		}
	}

	c.Next()
}

func checkQuota(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, service.ErrQuotaExceeded):
		response.AbortError(c, response.CodeQuotaExceeded, "")
	default:
		response.AbortError(c, response.CodeServerError, "")
	}
	return false
}

func pageCount(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxPageCount {
		return 0, errors.New("page count out of range")
	}
	return n, nil
}

// GetTool Meter 解析出的工具
func GetTool(c *gin.Context) (service.ToolPricing, bool) {
	v, ok := c.Get(ToolKey)
	if !ok {
		return service.ToolPricing{}, false
	}
	tool, ok := v.(service.ToolPricing)
	return tool, ok
}

