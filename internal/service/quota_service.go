package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"

	"github.com/qs3c/credit_ledger_server/config"
	"github.com/qs3c/credit_ledger_server/internal/model"
	"github.com/qs3c/credit_ledger_server/internal/model/dto"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
	"github.com/qs3c/credit_ledger_server/internal/pkg/metrics"
	"github.com/qs3c/credit_ledger_server/internal/repository"
)

var (
	ErrQuotaExceeded  = errors.New("monthly quota exceeded")
	ErrUnknownFeature = errors.New("unknown quota feature")
)

const periodLayout = "2006-01"

// ipQuotaScript 检查并累加 IP 月度计数，超限返回 -1
var ipQuotaScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if current + amount > limit then
	return -1
end
local value = redis.call('INCRBY', KEYS[1], amount)
if value == amount then
	redis.call('EXPIRE', KEYS[1], ARGV[3])
end
return value
`)

// QuotaService 匿名设备的月度免费额度
type QuotaService struct {
	quotaRepo *repository.QuotaRepository
	rdb       *redis.Client
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       *config.Config
	now       func() time.Time
}

func NewQuotaService(
	quotaRepo *repository.QuotaRepository,
	rdb *redis.Client,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg *config.Config,
) *QuotaService {
	return &QuotaService{
		quotaRepo: quotaRepo,
		rdb:       rdb,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Period 月度周期键（UTC）
func Period(t time.Time) string {
	return t.UTC().Format(periodLayout)
}

// periodEnd 下个周期开始时间
func periodEnd(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// Hash 以 quota.hash_key 为密钥的 blake2b 摘要，原始指纹与 IP 不落库
func (s *QuotaService) Hash(value string) string {
	if value == "" {
		return ""
	}
	h, err := blake2b.New256([]byte(s.cfg.Quota.HashKey))
	if err != nil {
		// key 超过 64 字节时退化为无密钥摘要
		h, _ = blake2b.New256(nil)
	}
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}

// GetOrCreate 获取设备额度记录，周期过期时重置
func (s *QuotaService) GetOrCreate(ctx context.Context, deviceID ident.DeviceID, fingerprint, ip string) (*model.DeviceQuota, error) {
	now := s.now()
	period := Period(now)
	fpHash := s.Hash(fingerprint)
	ipHash := s.Hash(ip)

	quota, err := s.quotaRepo.GetByDevice(ctx, deviceID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = s.quotaRepo.CreateIfAbsent(ctx, &model.DeviceQuota{
			DeviceID:     deviceID,
			Fingerprint:  fpHash,
			IPHash:       ipHash,
			Period:       period,
			LastActivity: now,
		})
		if err != nil {
			return nil, err
		}
		return s.quotaRepo.GetByDevice(ctx, deviceID)
	}
	if err != nil {
		return nil, err
	}

	if quota.Period != period {
		if _, err := s.quotaRepo.ResetPeriod(ctx, deviceID, quota.Period, period); err != nil {
			return nil, err
		}
		if quota, err = s.quotaRepo.GetByDevice(ctx, deviceID); err != nil {
			return nil, err
		}
	}

	if fpHash != "" || ipHash != "" {
		if err := s.quotaRepo.Touch(ctx, deviceID, fpHash, ipHash, now); err != nil {
			s.logger.Warn("quota touch failed", zap.String("device_id", deviceID.String()), zap.Error(err))
		}
	}
	return quota, nil
}

// CheckAndIncrement 原子地检查并累加额度，超限时不做任何修改
func (s *QuotaService) CheckAndIncrement(ctx context.Context, deviceID ident.DeviceID, ip, feature string, amount int64) error {
	limit, ok := s.cfg.Quota.Limits[feature]
	if !ok {
		return ErrUnknownFeature
	}
	if amount <= 0 {
		return nil
	}

	quota, err := s.GetOrCreate(ctx, deviceID, "", "")
	if err != nil {
		return err
	}

	ipKey, err := s.reserveIP(ctx, ip, feature, amount)
	if err != nil {
		return err
	}

	ok, err = s.quotaRepo.Increment(ctx, deviceID, quota.Period, feature, amount, limit)
	if err == nil && !ok {
		s.metrics.QuotaDenied(feature, "device")
		err = ErrQuotaExceeded
	}
	if err != nil {
		s.releaseIP(ctx, ipKey, amount)
		return err
	}
	return nil
}

// Info 额度使用情况
func (s *QuotaService) Info(ctx context.Context, deviceID ident.DeviceID) (*dto.QuotaInfo, error) {
	quota, err := s.GetOrCreate(ctx, deviceID, "", "")
	if err != nil {
		return nil, err
	}

	info := &dto.QuotaInfo{
		DeviceID: deviceID.String(),
		Period:   quota.Period,
		Usage:    map[string]int64{},
		Limits:   map[string]int64{},
		Remain:   map[string]int64{},
		ResetAt:  periodEnd(s.now()).Format(time.RFC3339),
	}
	for feature, limit := range s.cfg.Quota.Limits {
		used := quota.Counter(feature)
		remain := limit - used
		if remain < 0 {
			remain = 0
		}
		info.Usage[feature] = used
		info.Limits[feature] = limit
		info.Remain[feature] = remain
	}
	return info, nil
}

// reserveIP 同一 IP 的月度计数，Redis 不可用或未配置限制时跳过
func (s *QuotaService) reserveIP(ctx context.Context, ip, feature string, amount int64) (string, error) {
	if s.rdb == nil || ip == "" {
		return "", nil
	}
	limit, ok := s.cfg.Quota.IPLimits[feature]
	if !ok || limit <= 0 {
		return "", nil
	}

	now := s.now()
	key := fmt.Sprintf("quota:ip:%s:%s:%s", s.Hash(ip), Period(now), feature)
	ttl := int64(periodEnd(now).Sub(now).Seconds()) + 86400

	value, err := ipQuotaScript.Run(ctx, s.rdb, []string{key}, amount, limit, ttl).Int64()
	if err != nil {
		// Redis 故障时放行，只依赖设备计数
		s.logger.Warn("ip quota check failed", zap.Error(err))
		return "", nil
	}
	if value < 0 {
		s.metrics.QuotaDenied(feature, "ip")
		return "", ErrQuotaExceeded
	}
	return key, nil
}

func (s *QuotaService) releaseIP(ctx context.Context, key string, amount int64) {
	if key == "" {
		return
	}
	if err := s.rdb.DecrBy(context.WithoutCancel(ctx), key, amount).Err(); err != nil {
		s.logger.Warn("ip quota compensation failed", zap.Error(err))
	}
}
