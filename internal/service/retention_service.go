package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/credit_ledger_server/config"
	"github.com/qs3c/credit_ledger_server/internal/model"
	"github.com/qs3c/credit_ledger_server/internal/pkg/credit"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
	"github.com/qs3c/credit_ledger_server/internal/pkg/metrics"
	"github.com/qs3c/credit_ledger_server/internal/repository"
)

var ErrArchiveNotConfigured = errors.New("archive storage not configured")

const defaultRetentionBatch = 500

// Archiver 流水归档目标，*oss.Client 实现该接口
type Archiver interface {
	ArchiveKey(at time.Time, batch int) string
	PutArchive(ctx context.Context, objectKey string, data []byte) error
}

// RetentionReport 一次清理的统计
type RetentionReport struct {
	Cutoff   time.Time `json:"cutoff"`
	Batches  int       `json:"batches"`
	Archived int       `json:"archived"`
	Deleted  int64     `json:"deleted"`
	Accounts int       `json:"accounts"`
	Objects  []string  `json:"objects,omitempty"`
}

type RetentionService struct {
	db          *gorm.DB
	accountRepo *repository.AccountRepository
	txnRepo     *repository.TransactionRepository
	archiver    Archiver
	metrics     *metrics.Metrics
	logger      *zap.Logger
	cfg         *config.RetentionConfig
	now         func() time.Time
}

func NewRetentionService(
	db *gorm.DB,
	accountRepo *repository.AccountRepository,
	txnRepo *repository.TransactionRepository,
	archiver Archiver,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg *config.RetentionConfig,
) *RetentionService {
	return &RetentionService{
		db:          db,
		accountRepo: accountRepo,
		txnRepo:     txnRepo,
		archiver:    archiver,
		metrics:     m,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *RetentionService) batchSize() int {
	if s.cfg.BatchSize > 0 {
		return s.cfg.BatchSize
	}
	return defaultRetentionBatch
}

func (s *RetentionService) days() int {
	if s.cfg.Days > 0 {
		return s.cfg.Days
	}
	return 365
}

// Run 归档并删除超过保留期的非购买流水，delta 合计并入 baseline。
// dryRun 时只统计不写入。
func (s *RetentionService) Run(ctx context.Context, dryRun bool) (*RetentionReport, error) {
	now := s.now()
	report := &RetentionReport{Cutoff: now.AddDate(0, 0, -s.days())}

	if s.archiver == nil && !dryRun {
		return report, ErrArchiveNotConfigured
	}

	touched := make(map[ident.AccountID]struct{})
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		batch, err := s.txnRepo.ListExpiredBatch(ctx, report.Cutoff, afterID, s.batchSize())
		if err != nil {
			return report, fmt.Errorf("list expired transactions: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		afterID = batch[len(batch)-1].ID
		report.Batches++

		for _, t := range batch {
			touched[t.AccountID] = struct{}{}
		}

		if dryRun {
			report.Archived += len(batch)
			continue
		}

		key := s.archiver.ArchiveKey(now, report.Batches)
		data, err := encodeJSONL(batch)
		if err != nil {
			return report, err
		}
		// 先归档再删除，上传失败时数据库保持不变
		if err := s.archiver.PutArchive(ctx, key, data); err != nil {
			return report, fmt.Errorf("archive batch %d: %w", report.Batches, err)
		}
		report.Archived += len(batch)
		report.Objects = append(report.Objects, key)

		deleted, err := s.prune(ctx, batch)
		if err != nil {
			return report, fmt.Errorf("prune batch %d: %w", report.Batches, err)
		}
		report.Deleted += deleted
		s.metrics.Archived(len(batch))

		s.logger.Info("retention batch archived",
			zap.String("object", key),
			zap.Int("count", len(batch)),
			zap.Int64("deleted", deleted))
	}

	report.Accounts = len(touched)
	return report, nil
}

// prune 删除流水并在同一事务内调整 baseline
func (s *RetentionService) prune(ctx context.Context, batch []model.CreditTransaction) (int64, error) {
	ids := make([]int64, 0, len(batch))
	sums := make(map[ident.AccountID]credit.Amount)
	for _, t := range batch {
		ids = append(ids, t.ID)
		sums[t.AccountID] += t.Delta
	}

	dbCtx := context.WithoutCancel(ctx)
	var deleted int64
	err := s.db.WithContext(dbCtx).Transaction(func(tx *gorm.DB) error {
		n, err := s.txnRepo.WithTx(tx).DeleteByIDs(dbCtx, ids)
		if err != nil {
			return err
		}
		if n != int64(len(ids)) {
			return fmt.Errorf("deleted %d of %d transactions", n, len(ids))
		}
		accounts := s.accountRepo.WithTx(tx)
		for accountID, sum := range sums {
			if sum == 0 {
				continue
			}
			if err := accounts.AddBaseline(dbCtx, accountID, sum); err != nil {
				return err
			}
		}
		deleted = n
		return nil
	})
	return deleted, err
}

func encodeJSONL(batch []model.CreditTransaction) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range batch {
		if err := enc.Encode(&batch[i]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
