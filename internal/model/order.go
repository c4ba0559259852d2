package model

import (
	"time"

	"github.com/qs3c/credit_ledger_server/internal/pkg/credit"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
)

type OrderStatus string

const (
	OrderCreated  OrderStatus = "created"
	OrderCaptured OrderStatus = "captured"
	OrderFailed   OrderStatus = "failed"
)

// Order 支付网关订单，状态只由 webhook 推进
type Order struct {
	OrderID   ident.OrderID   `gorm:"primaryKey;size:64" json:"order_id"`
	AccountID ident.AccountID `gorm:"size:128;not null;index" json:"account_id"`
	PackID    ident.PackID    `gorm:"size:32;not null" json:"pack_id"`
	Credits   credit.Amount   `gorm:"not null" json:"credits"`
	Amount    int64           `gorm:"not null" json:"amount"` // 最小货币单位
	Currency  string          `gorm:"size:3;not null" json:"currency"`
	Status    OrderStatus     `gorm:"size:20;not null;index" json:"status"`
	PaymentID string          `gorm:"size:64" json:"payment_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Order) TableName() string {
	return "credit_orders"
}
