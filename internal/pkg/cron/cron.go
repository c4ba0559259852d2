package cron

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/credit_ledger_server/internal/service"
)

// Sweeper 释放超时预留
type Sweeper interface {
	SweepStale(ctx context.Context) (int, error)
}

// Retainer 流水归档清理
type Retainer interface {
	Run(ctx context.Context, dryRun bool) (*service.RetentionReport, error)
}

type Service struct {
	sweeper           Sweeper
	retainer          Retainer
	sweepInterval     time.Duration
	retentionInterval time.Duration
	logger            *zap.Logger
	stopChan          chan struct{}
	stopOnce          sync.Once
	wg                sync.WaitGroup
}

// NewService retainer 为 nil 时不启动归档任务
func NewService(
	sweeper Sweeper,
	retainer Retainer,
	sweepInterval time.Duration,
	retentionInterval time.Duration,
	logger *zap.Logger,
) *Service {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	if retentionInterval <= 0 {
		retentionInterval = 24 * time.Hour
	}
	return &Service{
		sweeper:           sweeper,
		retainer:          retainer,
		sweepInterval:     sweepInterval,
		retentionInterval: retentionInterval,
		logger:            logger,
		stopChan:          make(chan struct{}),
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	if s.sweeper != nil {
		s.wg.Add(1)
		go s.runSweeper()
	}
	if s.retainer != nil {
		s.wg.Add(1)
		go s.runRetention()
	}
	s.logger.Info("cron service started",
		zap.Bool("sweeper", s.sweeper != nil),
		zap.Bool("retention", s.retainer != nil),
		zap.Duration("sweep_interval", s.sweepInterval))
}

// Stop 停止定时任务并等待正在执行的任务结束
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	s.logger.Info("cron service stopped")
}

// runSweeper 启动时先清理一次（上次进程遗留的预留），之后按间隔执行
func (s *Service) runSweeper() {
	defer s.wg.Done()

	s.SweepNow()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.SweepNow()
		}
	}
}

// runRetention 每个周期执行一次归档
func (s *Service) runRetention() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.retentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.RetainNow()
		}
	}
}

// SweepNow 立即释放超时预留
func (s *Service) SweepNow() int {
	if s.sweeper == nil {
		return 0
	}
	released, err := s.sweeper.SweepStale(context.Background())
	if err != nil {
		s.logger.Error("sweep stale reservations failed", zap.Error(err))
	}
	return released
}

// RetainNow 立即执行一次归档
func (s *Service) RetainNow() *service.RetentionReport {
	if s.retainer == nil {
		return nil
	}
	s.logger.Info("retention started")
	report, err := s.retainer.Run(context.Background(), false)
	if err != nil {
		s.logger.Error("retention failed", zap.Error(err))
		return report
	}
	s.logger.Info("retention completed",
		zap.Int("archived", report.Archived),
		zap.Int64("deleted", report.Deleted),
		zap.Int("accounts", report.Accounts))
	return report
}
