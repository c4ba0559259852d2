package handler

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/credit_ledger_server/internal/model/dto"
	"github.com/qs3c/credit_ledger_server/internal/pkg/response"
	"github.com/qs3c/credit_ledger_server/internal/service"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	webhooks *service.WebhookService
	logger   *zap.Logger
}

func NewWebhookHandler(webhooks *service.WebhookService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhooks: webhooks,
		logger:   logger,
	}
}

// Handle 支付网关回调，签名基于原始请求体校验
// POST /api/v1/credits/webhook
func (h *WebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.ParamError(c, "unreadable body")
		return
	}

	signature := c.GetHeader("X-Signature")
	if signature == "" {
		signature = c.GetHeader("X-Razorpay-Signature")
	}

	outcome, err := h.webhooks.Handle(c.Request.Context(), body, signature)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSignature) {
			h.logger.Warn("webhook signature rejected", zap.String("client_ip", c.ClientIP()))
		}
		writeError(c, h.logger, err)
		return
	}

	h.logger.Debug("webhook handled", zap.String("outcome", string(outcome)))
	response.Success(c, dto.WebhookAck{Received: true})
}
