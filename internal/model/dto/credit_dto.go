package dto

import (
	"encoding/json"
	"time"

	"github.com/qs3c/credit_ledger_server/internal/pkg/credit"
)

// PackInfo 积分包（服务端定价）
type PackInfo struct {
	ID       string        `json:"id"`
	Credits  credit.Amount `json:"credits"`
	Amount   int64         `json:"amount"` // 含税，最小货币单位
	Currency string        `json:"currency"`
}

// PackListResponse 积分包列表
type PackListResponse struct {
	Packs []PackInfo `json:"packs"`
}

// CreateOrderRequest 下单请求，amount 仅作参考，以服务端计算为准
type CreateOrderRequest struct {
	AccountID string `json:"accountId"`
	PackID    string `json:"packId" binding:"required,credit_pack"`
	Currency  string `json:"currency" binding:"omitempty,len=3"`
	Amount    *int64 `json:"amount"`
}

// OrderResponse 支付网关订单描述
type OrderResponse struct {
	OrderID    string        `json:"orderId"`
	Amount     int64         `json:"amount"`
	Currency   string        `json:"currency"`
	GatewayKey string        `json:"gatewayKey"`
	Credits    credit.Amount `json:"credits"`
	PackID     string        `json:"packId"`
}

// WebhookAck webhook 确认
type WebhookAck struct {
	Received bool `json:"received"`
}

// BalanceResponse 余额信息
type BalanceResponse struct {
	Credits     credit.Amount `json:"credits"`
	TotalEarned credit.Amount `json:"totalEarned"`
	TotalUsed   credit.Amount `json:"totalUsed"`
	Unlimited   bool          `json:"unlimited"`
	Reserved    credit.Amount `json:"reserved"`
	ExpiresAt   *time.Time    `json:"expiresAt"`
	IsExpired   bool          `json:"isExpired"`
}

// DeductRequest 扣减请求
type DeductRequest struct {
	AccountID string        `json:"accountId"`
	Amount    credit.Amount `json:"amount" binding:"required"`
	Reason    string        `json:"reason" binding:"max=200"`
}

// DeductResponse 扣减结果
type DeductResponse struct {
	BalanceAfter credit.Amount `json:"balanceAfter"`
}

// HistoryQuery 流水查询参数
type HistoryQuery struct {
	AccountID string `form:"accountId"`
	Limit     int    `form:"limit" binding:"omitempty,min=1"`
	Cursor    string `form:"cursor"`
}

// TransactionItem 流水条目
type TransactionItem struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Delta        credit.Amount   `json:"delta"`
	BalanceAfter credit.Amount   `json:"balanceAfter"`
	OrderID      string          `json:"orderId,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// HistoryResponse 流水分页
type HistoryResponse struct {
	Transactions []TransactionItem `json:"transactions"`
	NextCursor   string            `json:"nextCursor,omitempty"`
}

// BalanceEvent 余额变更推送
type BalanceEvent struct {
	Type      string        `json:"type"` // balance
	Credits   credit.Amount `json:"credits"`
	Reserved  credit.Amount `json:"reserved"`
	Reason    string        `json:"reason"`
	Timestamp time.Time     `json:"timestamp"`
}
