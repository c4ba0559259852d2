package model

import (
	"time"

	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
)

// 匿名用户可计量的功能
const (
	FeatureOperations = "operations"
	FeatureUploadMB   = "upload_mb"
	FeatureDownloadMB = "download_mb"
)

// DeviceQuota 匿名设备的月度用量
type DeviceQuota struct {
	ID           int64          `gorm:"primaryKey" json:"id"`
	DeviceID     ident.DeviceID `gorm:"size:128;not null;uniqueIndex" json:"device_id"`
	Fingerprint  string         `gorm:"size:64" json:"-"`
	IPHash       string         `gorm:"size:64;index" json:"-"`
	Period       string         `gorm:"size:7;not null" json:"period"` // 2006-01
	Operations   int64          `gorm:"not null" json:"operations"`
	UploadMB     int64          `gorm:"column:upload_mb;not null" json:"upload_mb"`
	DownloadMB   int64          `gorm:"column:download_mb;not null" json:"download_mb"`
	LastActivity time.Time      `json:"last_activity"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (DeviceQuota) TableName() string {
	return "device_quotas"
}

// Counter 获取指定功能的计数
func (q *DeviceQuota) Counter(feature string) int64 {
	switch feature {
	case FeatureOperations:
		return q.Operations
	case FeatureUploadMB:
		return q.UploadMB
	case FeatureDownloadMB:
		return q.DownloadMB
	}
	return 0
}
