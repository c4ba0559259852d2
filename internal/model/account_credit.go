package model

import (
	"time"

	"github.com/qs3c/credit_ledger_server/internal/pkg/credit"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
)

// AccountCredit 账户积分记录，余额的唯一可信来源
type AccountCredit struct {
	AccountID   ident.AccountID `gorm:"primaryKey;size:128" json:"account_id"`
	Balance     credit.Amount   `gorm:"not null" json:"balance"`
	Reserved    credit.Amount   `gorm:"not null" json:"reserved"` // 未结算预留，始终 <= Balance
	TotalEarned credit.Amount   `gorm:"not null" json:"total_earned"`
	TotalUsed   credit.Amount   `gorm:"not null" json:"total_used"`
	Baseline    credit.Amount   `gorm:"not null" json:"-"`        // 已归档流水的 delta 合计
	Unlimited   bool            `gorm:"not null" json:"unlimited"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time      `json:"last_used_at,omitempty"`
	IsExpired   bool            `gorm:"not null" json:"is_expired"`
	Version     int64           `gorm:"not null" json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (AccountCredit) TableName() string {
	return "account_credits"
}

// Available 可用余额（扣除预留）
func (a *AccountCredit) Available() credit.Amount {
	return a.Balance - a.Reserved
}
