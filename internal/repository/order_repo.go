package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/credit_ledger_server/internal/model"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) WithTx(tx *gorm.DB) *OrderRepository {
	return &OrderRepository{db: tx}
}

func (r *OrderRepository) Create(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) GetByID(ctx context.Context, id ident.OrderID) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Where("order_id = ?", id).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetForUpdate 事务内加行锁读取（SQLite 忽略锁子句）
func (r *OrderRepository) GetForUpdate(ctx context.Context, id ident.OrderID) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// Transition 仅当当前状态属于 from 时推进状态
func (r *OrderRepository) Transition(ctx context.Context, id ident.OrderID, from []model.OrderStatus, to model.OrderStatus, paymentID string) (bool, error) {
	fields := map[string]interface{}{"status": to}
	if paymentID != "" {
		fields["payment_id"] = paymentID
	}
	result := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("order_id = ? AND status IN ?", id, from).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *OrderRepository) ListByAccount(ctx context.Context, accountID ident.AccountID, limit int) ([]model.Order, error) {
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}
