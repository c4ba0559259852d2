package model

import (
	"time"

	"github.com/qs3c/credit_ledger_server/internal/pkg/credit"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
)

type ReservationMode string

const (
	// ModeReserve 先冻结，成功后扣除
	ModeReserve ReservationMode = "reserve"
	// ModeRefund 先扣除，失败后退回
	ModeRefund ReservationMode = "refund"
)

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

// Reservation 计费操作的预留记录，进程崩溃后由清理任务释放
type Reservation struct {
	ID        string            `gorm:"primaryKey;size:36" json:"id"`
	AccountID ident.AccountID   `gorm:"size:128;not null;index" json:"account_id"`
	Amount    credit.Amount     `gorm:"not null" json:"amount"`
	Mode      ReservationMode   `gorm:"size:10;not null" json:"mode"`
	Status    ReservationStatus `gorm:"size:10;not null;index:idx_reservation_status_expires,priority:1" json:"status"`
	Tool      string            `gorm:"size:50" json:"tool,omitempty"`
	ExpiresAt time.Time         `gorm:"not null;index:idx_reservation_status_expires,priority:2" json:"expires_at"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (Reservation) TableName() string {
	return "credit_reservations"
}
