package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/qs3c/credit_ledger_server/internal/pkg/credit"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
)

type TransactionType string

const (
	TxPurchase   TransactionType = "purchase"
	TxDeduct     TransactionType = "deduct"
	TxExpire     TransactionType = "expire"
	TxAdjustment TransactionType = "adjustment"
)

// CreditTransaction 积分流水，只追加不修改
type CreditTransaction struct {
	ID              int64           `gorm:"primaryKey" json:"id"`
	AccountID       ident.AccountID `gorm:"size:128;not null;index:idx_tx_account_id,priority:1" json:"account_id"`
	Type            TransactionType `gorm:"size:20;not null;index" json:"type"`
	Delta           credit.Amount   `gorm:"not null" json:"delta"`
	BalanceAfter    credit.Amount   `gorm:"not null" json:"balance_after"`
	PurchaseOrderID *ident.OrderID  `gorm:"size:64;uniqueIndex:uniq_purchase_order" json:"order_id,omitempty"` // 仅 purchase 填写
	Metadata        datatypes.JSON  `json:"metadata,omitempty"`
	CreatedAt       time.Time       `gorm:"index" json:"created_at"`
}

func (CreditTransaction) TableName() string {
	return "credit_transactions"
}

// TxMeta 流水附加信息
type TxMeta struct {
	OrderID       string `json:"order_id,omitempty"`
	PaymentID     string `json:"payment_id,omitempty"`
	PackID        string `json:"pack_id,omitempty"`
	Tool          string `json:"tool,omitempty"`
	Pages         int    `json:"pages,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// JSON 序列化为 Metadata 列，空值返回 nil
func (m TxMeta) JSON() datatypes.JSON {
	if m == (TxMeta{}) {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}
