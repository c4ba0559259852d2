package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/credit_ledger_server/internal/api/middleware"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
	"github.com/qs3c/credit_ledger_server/internal/pkg/response"
	"github.com/qs3c/credit_ledger_server/internal/service"
)

type QuotaHandler struct {
	quotaService *service.QuotaService
	logger       *zap.Logger
}

func NewQuotaHandler(quotaService *service.QuotaService, logger *zap.Logger) *QuotaHandler {
	return &QuotaHandler{
		quotaService: quotaService,
		logger:       logger,
	}
}

// GetQuota 匿名设备的月度额度
// GET /api/v1/quota?deviceId=
func (h *QuotaHandler) GetQuota(c *gin.Context) {
	raw := c.Query("deviceId")
	if raw == "" {
		raw = c.GetHeader(middleware.HeaderDeviceID)
	}
	deviceID, err := ident.ParseDeviceID(raw)
	if err != nil {
		response.IdentifierError(c, "")
		return
	}

	info, err := h.quotaService.Info(c.Request.Context(), deviceID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	response.Success(c, info)
}
