package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/credit_ledger_server/internal/model"
	"github.com/qs3c/credit_ledger_server/internal/pkg/credit"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
)

// TransactionRepository 积分流水，写入只发生在账本事务内
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) WithTx(tx *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: tx}
}

func (r *TransactionRepository) Create(ctx context.Context, txn *model.CreditTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

// ExistsPurchase 订单是否已入账
func (r *TransactionRepository) ExistsPurchase(ctx context.Context, orderID ident.OrderID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.CreditTransaction{}).
		Where("purchase_order_id = ?", orderID).
		Count(&count).Error
	return count > 0, err
}

// ListByAccount 按时间倒序分页，cursor 为上一页最后一条的 ID
func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID ident.AccountID, limit int, cursor int64) ([]model.CreditTransaction, error) {
	var txns []model.CreditTransaction
	query := r.db.WithContext(ctx).Where("account_id = ?", accountID)
	if cursor > 0 {
		query = query.Where("id < ?", cursor)
	}
	err := query.Order("id DESC").Limit(limit).Find(&txns).Error
	return txns, err
}

// SumDeltas 对账用：账户全部保留流水的 delta 合计
func (r *TransactionRepository) SumDeltas(ctx context.Context, accountID ident.AccountID) (credit.Amount, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&model.CreditTransaction{}).
		Where("account_id = ?", accountID).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&sum).Error
	return credit.Amount(sum), err
}

// ListExpiredBatch 超过保留期的非购买流水，按 ID 升序从 afterID 之后取
func (r *TransactionRepository) ListExpiredBatch(ctx context.Context, before time.Time, afterID int64, limit int) ([]model.CreditTransaction, error) {
	var txns []model.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("type <> ? AND created_at < ? AND id > ?", model.TxPurchase, before, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&txns).Error
	return txns, err
}

// DeleteByIDs 删除已归档流水，购买流水永不删除
func (r *TransactionRepository) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Where("id IN ? AND type <> ?", ids, model.TxPurchase).
		Delete(&model.CreditTransaction{})
	return result.RowsAffected, result.Error
}
