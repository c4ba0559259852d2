package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/credit_ledger_server/internal/model"
	"github.com/qs3c/credit_ledger_server/internal/pkg/credit"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// WithTx 绑定到事务
func (r *AccountRepository) WithTx(tx *gorm.DB) *AccountRepository {
	return &AccountRepository{db: tx}
}

func (r *AccountRepository) Get(ctx context.Context, id ident.AccountID) (*model.AccountCredit, error) {
	var account model.AccountCredit
	err := r.db.WithContext(ctx).Where("account_id = ?", id).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// CreateIfAbsent 首次使用时建档，已存在则不做任何事
func (r *AccountRepository) CreateIfAbsent(ctx context.Context, account *model.AccountCredit) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(account).Error
}

// UpdateCAS 以 version 为条件写回余额字段，版本不匹配时返回 false
func (r *AccountRepository) UpdateCAS(ctx context.Context, account *model.AccountCredit, expectedVersion int64) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.AccountCredit{}).
		Where("account_id = ? AND version = ?", account.AccountID, expectedVersion).
		Updates(map[string]interface{}{
			"balance":      account.Balance,
			"reserved":     account.Reserved,
			"total_earned": account.TotalEarned,
			"total_used":   account.TotalUsed,
			"expires_at":   account.ExpiresAt,
			"last_used_at": account.LastUsedAt,
			"is_expired":   account.IsExpired,
			"version":      expectedVersion + 1,
			"updated_at":   time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// SetUnlimited 管理员授予或撤销无限额度
func (r *AccountRepository) SetUnlimited(ctx context.Context, id ident.AccountID, unlimited bool) error {
	return r.db.WithContext(ctx).Model(&model.AccountCredit{}).
		Where("account_id = ?", id).
		Updates(map[string]interface{}{
			"unlimited": unlimited,
			"version":   gorm.Expr("version + 1"),
		}).Error
}

// AddBaseline 归档流水后把其 delta 合计并入 baseline
func (r *AccountRepository) AddBaseline(ctx context.Context, id ident.AccountID, delta credit.Amount) error {
	return r.db.WithContext(ctx).Model(&model.AccountCredit{}).
		Where("account_id = ?", id).
		Update("baseline", gorm.Expr("baseline + ?", int64(delta))).Error
}
