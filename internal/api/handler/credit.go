package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/credit_ledger_server/internal/model"
	"github.com/qs3c/credit_ledger_server/internal/model/dto"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
	"github.com/qs3c/credit_ledger_server/internal/pkg/response"
	"github.com/qs3c/credit_ledger_server/internal/service"
)

type CreditHandler struct {
	ledger *service.LedgerService
	orders *service.OrderService
	logger *zap.Logger
}

func NewCreditHandler(ledger *service.LedgerService, orders *service.OrderService, logger *zap.Logger) *CreditHandler {
	registerValidators()
	return &CreditHandler{
		ledger: ledger,
		orders: orders,
		logger: logger,
	}
}

// Packs 积分包价格表
// GET /api/v1/credits/packs
func (h *CreditHandler) Packs(c *gin.Context) {
	response.Success(c, h.orders.ListPacks())
}

// CreateOrder 创建支付订单
// POST /api/v1/credits/order
func (h *CreditHandler) CreateOrder(c *gin.Context) {
	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid order request")
		return
	}

	accountID, ok := resolveAccount(c, req.AccountID)
	if !ok {
		return
	}

	packID, err := ident.ParsePackID(req.PackID)
	if err != nil {
		response.ParamError(c, "invalid pack id")
		return
	}

	resp, err := h.orders.CreateOrder(c.Request.Context(), accountID, packID, req.Currency, req.Amount)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	response.Success(c, resp)
}

// Balance 余额查询
// GET /api/v1/credits/balance?accountId=
func (h *CreditHandler) Balance(c *gin.Context) {
	accountID, ok := resolveAccount(c, c.Query("accountId"))
	if !ok {
		return
	}

	resp, err := h.ledger.Balance(c.Request.Context(), accountID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	response.Success(c, resp)
}

// Deduct 直接扣减
// POST /api/v1/credits/deduct
func (h *CreditHandler) Deduct(c *gin.Context) {
	var req dto.DeductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "amount must be a positive number with at most 2 decimals")
		return
	}

	accountID, ok := resolveAccount(c, req.AccountID)
	if !ok {
		return
	}

	account, err := h.ledger.DeductCredits(c.Request.Context(), accountID, req.Amount, model.TxMeta{Reason: req.Reason})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	response.Success(c, dto.DeductResponse{BalanceAfter: account.Balance})
}

// History 流水分页
// GET /api/v1/credits/history?accountId=&limit=&cursor=
func (h *CreditHandler) History(c *gin.Context) {
	var query dto.HistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.ParamError(c, "invalid history query")
		return
	}

	accountID, ok := resolveAccount(c, query.AccountID)
	if !ok {
		return
	}

	resp, err := h.ledger.History(c.Request.Context(), accountID, query.Limit, query.Cursor)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	response.Success(c, resp)
}
