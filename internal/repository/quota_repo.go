package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/credit_ledger_server/internal/model"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
)

// 功能名到列名的白名单，列名不接受外部输入
var quotaColumns = map[string]string{
	model.FeatureOperations: "operations",
	model.FeatureUploadMB:   "upload_mb",
	model.FeatureDownloadMB: "download_mb",
}

type QuotaRepository struct {
	db *gorm.DB
}

func NewQuotaRepository(db *gorm.DB) *QuotaRepository {
	return &QuotaRepository{db: db}
}

func (r *QuotaRepository) GetByDevice(ctx context.Context, deviceID ident.DeviceID) (*model.DeviceQuota, error) {
	var quota model.DeviceQuota
	err := r.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&quota).Error
	if err != nil {
		return nil, err
	}
	return &quota, nil
}

// CreateIfAbsent 并发首次访问只会有一条记录生效
func (r *QuotaRepository) CreateIfAbsent(ctx context.Context, quota *model.DeviceQuota) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "device_id"}}, DoNothing: true}).
		Create(quota).Error
}

// ResetPeriod 周期切换时清零计数，条件更新保证并发只生效一次
func (r *QuotaRepository) ResetPeriod(ctx context.Context, deviceID ident.DeviceID, oldPeriod, newPeriod string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.DeviceQuota{}).
		Where("device_id = ? AND period = ?", deviceID, oldPeriod).
		Updates(map[string]interface{}{
			"period":      newPeriod,
			"operations":  0,
			"upload_mb":   0,
			"download_mb": 0,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Touch 更新指纹、IP 哈希与活跃时间
func (r *QuotaRepository) Touch(ctx context.Context, deviceID ident.DeviceID, fingerprint, ipHash string, at time.Time) error {
	fields := map[string]interface{}{"last_activity": at}
	if fingerprint != "" {
		fields["fingerprint"] = fingerprint
	}
	if ipHash != "" {
		fields["ip_hash"] = ipHash
	}
	return r.db.WithContext(ctx).Model(&model.DeviceQuota{}).
		Where("device_id = ?", deviceID).
		Updates(fields).Error
}

// Increment 在不超过 limit 的前提下累加计数，超限时返回 false 且不修改
func (r *QuotaRepository) Increment(ctx context.Context, deviceID ident.DeviceID, period, feature string, amount, limit int64) (bool, error) {
	col, ok := quotaColumns[feature]
	if !ok {
		return false, fmt.Errorf("unknown quota feature %q", feature)
	}
	result := r.db.WithContext(ctx).Model(&model.DeviceQuota{}).
		Where("device_id = ? AND period = ?", deviceID, period).
		Where(col+" + ? <= ?", amount, limit).
		Updates(map[string]interface{}{
			col:             gorm.Expr(col+" + ?", amount),
			"last_activity": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
