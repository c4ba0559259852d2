package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/credit_ledger_server/internal/model"
)

type ReservationRepository struct {
	db *gorm.DB
}

func NewReservationRepository(db *gorm.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

func (r *ReservationRepository) WithTx(tx *gorm.DB) *ReservationRepository {
	return &ReservationRepository{db: tx}
}

func (r *ReservationRepository) Create(ctx context.Context, res *model.Reservation) error {
	return r.db.WithContext(ctx).Create(res).Error
}

func (r *ReservationRepository) GetByID(ctx context.Context, id string) (*model.Reservation, error) {
	var res model.Reservation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&res).Error
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Resolve 仅 pending 记录可以转为终态
func (r *ReservationRepository) Resolve(ctx context.Context, id string, to model.ReservationStatus) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.Reservation{}).
		Where("id = ? AND status = ?", id, model.ReservationPending).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListStale 超时未结算的预留
func (r *ReservationRepository) ListStale(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	var list []model.Reservation
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", model.ReservationPending, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}
