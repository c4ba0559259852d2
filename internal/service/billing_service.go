package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/credit_ledger_server/config"
	"github.com/qs3c/credit_ledger_server/internal/model"
	"github.com/qs3c/credit_ledger_server/internal/pkg/credit"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
	"github.com/qs3c/credit_ledger_server/internal/pkg/metrics"
	"github.com/qs3c/credit_ledger_server/internal/pkg/pubsub"
	"github.com/qs3c/credit_ledger_server/internal/repository"
)

var ErrReservationClosed = errors.New("reservation already resolved")

const sweepBatchSize = 100

// BillingService 计费操作的预留、结算与释放
type BillingService struct {
	ledger  *LedgerService
	resRepo *repository.ReservationRepository
	tools   map[string]ToolPricing
	metrics *metrics.Metrics
	logger  *zap.Logger
	cfg     *config.Config
}

func NewBillingService(
	ledger *LedgerService,
	resRepo *repository.ReservationRepository,
	tools map[string]ToolPricing,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg *config.Config,
) *BillingService {
	return &BillingService{
		ledger:  ledger,
		resRepo: resRepo,
		tools:   tools,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
	}
}

// Tool 工具计价信息
func (s *BillingService) Tool(name string) (ToolPricing, error) {
	tool, ok := s.tools[name]
	if !ok {
		return ToolPricing{}, ErrUnknownTool
	}
	return tool, nil
}

// Cost 工具在给定页数下的费用
func (s *BillingService) Cost(name string, pages int) (credit.Amount, error) {
	tool, err := s.Tool(name)
	if err != nil {
		return 0, err
	}
	return tool.Cost(pages), nil
}

func (s *BillingService) mode() model.ReservationMode {
	if s.cfg.Billing.Mode == string(model.ModeRefund) {
		return model.ModeRefund
	}
	return model.ModeReserve
}

func (s *BillingService) reservationTimeout() time.Duration {
	if s.cfg.Billing.ReservationTimeout > 0 {
		return s.cfg.Billing.ReservationTimeout
	}
	return 15 * time.Minute
}

// CommitBelow 上游状态码低于该值视为成功
func (s *BillingService) CommitBelow() int {
	if s.cfg.Billing.CommitBelowStatus > 0 {
		return s.cfg.Billing.CommitBelowStatus
	}
	return 400
}

// Reserve 冻结（reserve 模式）或预扣（refund 模式）费用
func (s *BillingService) Reserve(ctx context.Context, accountID ident.AccountID, amount credit.Amount, tool string) (*model.Reservation, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	mode := s.mode()
	dbCtx := context.WithoutCancel(ctx)
	res := &model.Reservation{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Amount:    amount,
		Mode:      mode,
		Status:    model.ReservationPending,
		Tool:      tool,
	}

	reason := pubsub.ReasonReserve
	if mode == model.ModeRefund {
		reason = pubsub.ReasonDeduct
	}

	_, err := s.ledger.mutate(ctx, accountID, reason,
		func(tx *gorm.DB, account *model.AccountCredit, now time.Time) ([]*model.CreditTransaction, error) {
			res.ExpiresAt = now.Add(s.reservationTimeout())

			var txns []*model.CreditTransaction
			switch {
			case mode == model.ModeRefund:
				txn, err := s.ledger.applyDeduct(account, amount, now, model.TxMeta{Tool: tool, ReservationID: res.ID})
				if err != nil {
					return nil, err
				}
				if account.Unlimited {
					res.Amount = 0
				}
				txns = append(txns, txn)
			case account.Unlimited:
				// 无限额度不冻结，结算时记零额流水
				res.Amount = 0
			default:
				if account.Available() < amount {
					return nil, ErrInsufficientCredits
				}
				account.Reserved += amount
			}

			if err := s.resRepo.WithTx(tx).Create(dbCtx, res); err != nil {
				return nil, err
			}
			return txns, nil
		})
	if err != nil {
		s.metrics.Reservation(string(mode), "rejected")
		return nil, err
	}

	s.metrics.Reservation(string(mode), "reserved")
	return res, nil
}

// Commit 结算预留，只有 pending 记录会转换
func (s *BillingService) Commit(ctx context.Context, id string) error {
	res, err := s.resRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if res.Status != model.ReservationPending {
		return ErrReservationClosed
	}

	dbCtx := context.WithoutCancel(ctx)
	if res.Mode == model.ModeRefund {
		ok, err := s.resRepo.Resolve(dbCtx, id, model.ReservationCommitted)
		if err != nil {
			return err
		}
		if !ok {
			return ErrReservationClosed
		}
		s.metrics.Reservation(string(res.Mode), "committed")
		return nil
	}

	_, err = s.ledger.mutate(ctx, res.AccountID, pubsub.ReasonDeduct,
		func(tx *gorm.DB, account *model.AccountCredit, now time.Time) ([]*model.CreditTransaction, error) {
			ok, err := s.resRepo.WithTx(tx).Resolve(dbCtx, id, model.ReservationCommitted)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, ErrReservationClosed
			}

			account.Reserved -= res.Amount
			if account.Reserved < 0 {
				account.Reserved = 0
			}
			meta := model.TxMeta{Tool: res.Tool, ReservationID: res.ID}
			if res.Amount == 0 {
				account.LastUsedAt = &now
				return []*model.CreditTransaction{{
					Type: model.TxDeduct, Delta: 0, BalanceAfter: account.Balance, Metadata: meta.JSON(),
				}}, nil
			}
			// 冻结部分不会被过期清零，因此余额一定足够
			txn, err := s.ledger.applyDeduct(account, res.Amount, now, meta)
			if err != nil {
				return nil, err
			}
			return []*model.CreditTransaction{txn}, nil
		})
	if err != nil {
		return err
	}
	s.metrics.Reservation(string(res.Mode), "committed")
	return nil
}

// Release 释放预留：reserve 模式解冻，refund 模式补偿入账
func (s *BillingService) Release(ctx context.Context, id string) error {
	res, err := s.resRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if res.Status != model.ReservationPending {
		return ErrReservationClosed
	}

	dbCtx := context.WithoutCancel(ctx)
	reason := pubsub.ReasonRelease
	if res.Mode == model.ModeRefund {
		reason = pubsub.ReasonRefund
	}

	_, err = s.ledger.mutate(ctx, res.AccountID, reason,
		func(tx *gorm.DB, account *model.AccountCredit, now time.Time) ([]*model.CreditTransaction, error) {
			ok, err := s.resRepo.WithTx(tx).Resolve(dbCtx, id, model.ReservationReleased)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, ErrReservationClosed
			}

			if res.Mode == model.ModeReserve {
				account.Reserved -= res.Amount
				if account.Reserved < 0 {
					account.Reserved = 0
				}
				return nil, nil
			}
			if res.Amount == 0 {
				return nil, nil
			}

			// 补偿入账不延长过期时间
			account.Balance += res.Amount
			account.TotalUsed -= res.Amount
			if account.TotalUsed < 0 {
				account.TotalUsed = 0
			}
			if account.Balance > 0 {
				account.IsExpired = false
			}
			return []*model.CreditTransaction{{
				Type:         model.TxAdjustment,
				Delta:        res.Amount,
				BalanceAfter: account.Balance,
				Metadata:     model.TxMeta{Tool: res.Tool, ReservationID: res.ID, Reason: "operation failed"}.JSON(),
			}}, nil
		})
	if err != nil {
		return err
	}
	s.metrics.Reservation(string(res.Mode), "released")
	return nil
}

// Run 预留后执行 fn，成功结算、失败释放
func (s *BillingService) Run(ctx context.Context, accountID ident.AccountID, cost credit.Amount, tool string, fn func(ctx context.Context) error) error {
	res, err := s.Reserve(ctx, accountID, cost, tool)
	if err != nil {
		return err
	}

	if opErr := fn(ctx); opErr != nil {
		if err := s.Release(ctx, res.ID); err != nil {
			s.logger.Error("release reservation failed", zap.String("reservation_id", res.ID), zap.Error(err))
		}
		return opErr
	}

	return s.Commit(ctx, res.ID)
}

// SweepStale 释放超时未结算的预留（进程崩溃后的兜底）
func (s *BillingService) SweepStale(ctx context.Context) (int, error) {
	released := 0
	for {
		list, err := s.resRepo.ListStale(ctx, s.ledger.now(), sweepBatchSize)
		if err != nil {
			return released, err
		}
		if len(list) == 0 {
			return released, nil
		}

		progressed := false
		for _, res := range list {
			err := s.Release(ctx, res.ID)
			if err == nil {
				released++
				progressed = true
				continue
			}
			if errors.Is(err, ErrReservationClosed) {
				progressed = true
				continue
			}
			s.logger.Warn("sweep reservation failed", zap.String("reservation_id", res.ID), zap.Error(err))
		}
		if !progressed || len(list) < sweepBatchSize {
			if released > 0 {
				s.logger.Info("stale reservations released", zap.Int("count", released))
			}
			return released, nil
		}
	}
}
