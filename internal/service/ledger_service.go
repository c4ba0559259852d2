package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/credit_ledger_server/config"
	"github.com/qs3c/credit_ledger_server/internal/model"
	"github.com/qs3c/credit_ledger_server/internal/model/dto"
	"github.com/qs3c/credit_ledger_server/internal/pkg/credit"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
	"github.com/qs3c/credit_ledger_server/internal/pkg/metrics"
	"github.com/qs3c/credit_ledger_server/internal/pkg/pubsub"
	"github.com/qs3c/credit_ledger_server/internal/repository"
)

const (
	maxCASAttempts      = 8
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

var errVersionConflict = errors.New("account version conflict")

// mutation 在账本事务内修改账户记录，返回需要追加的流水
type mutation func(tx *gorm.DB, account *model.AccountCredit, now time.Time) ([]*model.CreditTransaction, error)

type LedgerService struct {
	db          *gorm.DB
	accountRepo *repository.AccountRepository
	txnRepo     *repository.TransactionRepository
	publisher   *pubsub.Publisher
	metrics     *metrics.Metrics
	logger      *zap.Logger
	cfg         *config.Config
	now         func() time.Time
}

func NewLedgerService(
	db *gorm.DB,
	accountRepo *repository.AccountRepository,
	txnRepo *repository.TransactionRepository,
	publisher *pubsub.Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg *config.Config,
) *LedgerService {
	return &LedgerService{
		db:          db,
		accountRepo: accountRepo,
		txnRepo:     txnRepo,
		publisher:   publisher,
		metrics:     m,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CheckExpiry 判断记录在 now 时刻是否已过期（纯函数）
func CheckExpiry(account *model.AccountCredit, now time.Time) bool {
	return account.ExpiresAt != nil && account.ExpiresAt.Before(now) && account.Balance > 0
}

// GetOrCreate 获取账户记录，首次访问时建档，并落地过期
func (s *LedgerService) GetOrCreate(ctx context.Context, accountID ident.AccountID) (*model.AccountCredit, error) {
	return s.mutate(ctx, accountID, pubsub.ReasonExpire, nil)
}

// AddCredits 入账，过期时间取现有与 now+expiryDays 的较大者
func (s *LedgerService) AddCredits(ctx context.Context, accountID ident.AccountID, amount credit.Amount, expiryDays int, txType model.TransactionType, meta model.TxMeta) (*model.AccountCredit, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.mutate(ctx, accountID, string(txType), func(_ *gorm.DB, account *model.AccountCredit, now time.Time) ([]*model.CreditTransaction, error) {
		return []*model.CreditTransaction{applyCredit(account, amount, expiryDays, now, txType, meta)}, nil
	})
}

// DeductCredits 扣减可用余额（余额减去预留）
func (s *LedgerService) DeductCredits(ctx context.Context, accountID ident.AccountID, amount credit.Amount, meta model.TxMeta) (*model.AccountCredit, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.mutate(ctx, accountID, pubsub.ReasonDeduct, func(_ *gorm.DB, account *model.AccountCredit, now time.Time) ([]*model.CreditTransaction, error) {
		txn, err := s.applyDeduct(account, amount, now, meta)
		if err != nil {
			return nil, err
		}
		return []*model.CreditTransaction{txn}, nil
	})
}

// Balance 余额视图
func (s *LedgerService) Balance(ctx context.Context, accountID ident.AccountID) (*dto.BalanceResponse, error) {
	account, err := s.GetOrCreate(ctx, accountID)
	if err != nil {
		return nil, err
	}
	resp := &dto.BalanceResponse{
		Credits:     account.Balance,
		TotalEarned: account.TotalEarned,
		TotalUsed:   account.TotalUsed,
		Unlimited:   account.Unlimited,
		Reserved:    account.Reserved,
		ExpiresAt:   account.ExpiresAt,
		IsExpired:   account.IsExpired,
	}
	// 预留部分在结算前仍留在账上，过期账户对外只显示为零
	if CheckExpiry(account, s.now()) {
		resp.Credits = 0
		resp.IsExpired = true
	}
	return resp, nil
}

// History 流水分页，按时间倒序
func (s *LedgerService) History(ctx context.Context, accountID ident.AccountID, limit int, cursor string) (*dto.HistoryResponse, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	var after int64
	if cursor != "" {
		v, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil || v <= 0 {
			return nil, ErrInvalidCursor
		}
		after = v
	}

	// 读取前落地过期，保证流水包含 expire 记录
	if _, err := s.GetOrCreate(ctx, accountID); err != nil {
		return nil, err
	}

	txns, err := s.txnRepo.ListByAccount(ctx, accountID, limit, after)
	if err != nil {
		return nil, err
	}

	resp := &dto.HistoryResponse{Transactions: make([]dto.TransactionItem, 0, len(txns))}
	for _, t := range txns {
		item := dto.TransactionItem{
			ID:           strconv.FormatInt(t.ID, 10),
			Type:         string(t.Type),
			Delta:        t.Delta,
			BalanceAfter: t.BalanceAfter,
			CreatedAt:    t.CreatedAt,
		}
		if t.PurchaseOrderID != nil {
			item.OrderID = t.PurchaseOrderID.String()
		}
		if len(t.Metadata) > 0 {
			item.Metadata = []byte(t.Metadata)
		}
		resp.Transactions = append(resp.Transactions, item)
	}
	if len(txns) == limit {
		resp.NextCursor = strconv.FormatInt(txns[len(txns)-1].ID, 10)
	}
	return resp, nil
}

// SetUnlimited 管理员授予无限额度
func (s *LedgerService) SetUnlimited(ctx context.Context, accountID ident.AccountID, unlimited bool) error {
	if err := s.ensureAccount(ctx, accountID); err != nil {
		return err
	}
	return s.accountRepo.SetUnlimited(ctx, accountID, unlimited)
}

// Audit 对账：baseline 加上保留流水的 delta 合计应等于余额
func (s *LedgerService) Audit(ctx context.Context, accountID ident.AccountID) (bool, error) {
	account, err := s.accountRepo.Get(ctx, accountID)
	if err != nil {
		return false, err
	}
	sum, err := s.txnRepo.SumDeltas(ctx, accountID)
	if err != nil {
		return false, err
	}
	return account.Baseline+sum == account.Balance, nil
}

func (s *LedgerService) ensureAccount(ctx context.Context, accountID ident.AccountID) error {
	return s.accountRepo.CreateIfAbsent(ctx, &model.AccountCredit{AccountID: accountID})
}

// mutate 乐观锁重试：每次尝试都是一个新的数据库事务
func (s *LedgerService) mutate(ctx context.Context, accountID ident.AccountID, op string, fn mutation) (*model.AccountCredit, error) {
	if accountID == "" {
		return nil, ErrInvalidIdentifier
	}
	// 账本写入不随请求取消而中断
	ctx = context.WithoutCancel(ctx)

	if err := s.ensureAccount(ctx, accountID); err != nil {
		s.metrics.LedgerMutation(op, "error")
		return nil, err
	}

	var written bool
	result, err := backoff.Retry(ctx, func() (*model.AccountCredit, error) {
		account, wrote, err := s.attempt(ctx, accountID, fn)
		if errors.Is(err, errVersionConflict) {
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		written = wrote
		return account, nil
	},
		backoff.WithBackOff(newCASBackOff()),
		backoff.WithMaxTries(maxCASAttempts),
		backoff.WithNotify(func(error, time.Duration) { s.metrics.LedgerRetry() }),
	)

	switch {
	case err == nil:
	case errors.Is(err, errVersionConflict):
		s.metrics.LedgerMutation(op, "contention")
		s.logger.Warn("ledger contention", zap.String("account_id", accountID.String()), zap.String("op", op))
		return nil, ErrLedgerContention
	case errors.Is(err, ErrInsufficientCredits):
		s.metrics.LedgerMutation(op, "insufficient")
		return nil, err
	case errors.Is(err, errDuplicateEvent):
		s.metrics.LedgerMutation(op, "duplicate")
		return nil, err
	default:
		s.metrics.LedgerMutation(op, "error")
		return nil, err
	}

	if written {
		s.metrics.LedgerMutation(op, "ok")
		s.publish(ctx, result, op)
	}
	return result, nil
}

// attempt 单次事务：读取、应用修改、按版本号写回，版本不匹配返回 errVersionConflict
func (s *LedgerService) attempt(ctx context.Context, accountID ident.AccountID, fn mutation) (*model.AccountCredit, bool, error) {
	var result *model.AccountCredit
	var written bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		accounts := s.accountRepo.WithTx(tx)
		txns := s.txnRepo.WithTx(tx)

		account, err := accounts.Get(ctx, accountID)
		if err != nil {
			return err
		}
		version := account.Version
		now := s.now()

		var pending []*model.CreditTransaction
		if expired := materializeExpiry(account, now); expired != nil {
			pending = append(pending, expired)
		}

		if fn != nil {
			extra, err := fn(tx, account, now)
			if err != nil {
				return err
			}
			pending = append(pending, extra...)
		} else if len(pending) == 0 {
			result = account
			return nil
		}

		ok, err := accounts.UpdateCAS(ctx, account, version)
		if err != nil {
			return err
		}
		if !ok {
			return errVersionConflict
		}
		account.Version = version + 1

		for _, t := range pending {
			t.AccountID = accountID
			if err := txns.Create(ctx, t); err != nil {
				return err
			}
		}
		result = account
		written = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, written, nil
}

// newCASBackOff 乐观锁冲突的退避策略，带随机抖动
func newCASBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.RandomizationFactor = 0.5
	b.Multiplier = 2
	b.MaxInterval = 50 * time.Millisecond
	return b
}

func (s *LedgerService) publish(ctx context.Context, account *model.AccountCredit, reason string) {
	err := s.publisher.PublishBalance(ctx, &pubsub.BalanceMessage{
		AccountID: account.AccountID.String(),
		Credits:   account.Balance,
		Reserved:  account.Reserved,
		Reason:    reason,
	})
	if err != nil {
		s.logger.Warn("publish balance failed", zap.String("account_id", account.AccountID.String()), zap.Error(err))
	}
}

// materializeExpiry 过期时清零可用余额，预留部分待结算后处理
func materializeExpiry(account *model.AccountCredit, now time.Time) *model.CreditTransaction {
	if !CheckExpiry(account, now) {
		return nil
	}
	available := account.Available()
	if available <= 0 {
		return nil
	}
	account.Balance -= available
	if account.Balance == 0 {
		account.IsExpired = true
	}
	return &model.CreditTransaction{
		Type:         model.TxExpire,
		Delta:        -available,
		BalanceAfter: account.Balance,
		Metadata:     model.TxMeta{Reason: "credits expired"}.JSON(),
	}
}

func applyCredit(account *model.AccountCredit, amount credit.Amount, expiryDays int, now time.Time, txType model.TransactionType, meta model.TxMeta) *model.CreditTransaction {
	account.Balance += amount
	account.TotalEarned += amount
	account.IsExpired = false
	if expiryDays > 0 {
		expiresAt := now.AddDate(0, 0, expiryDays)
		if account.ExpiresAt == nil || account.ExpiresAt.Before(expiresAt) {
			account.ExpiresAt = &expiresAt
		}
	}

	txn := &model.CreditTransaction{
		Type:         txType,
		Delta:        amount,
		BalanceAfter: account.Balance,
		Metadata:     meta.JSON(),
	}
	if txType == model.TxPurchase && meta.OrderID != "" {
		orderID := ident.OrderID(meta.OrderID)
		txn.PurchaseOrderID = &orderID
	}
	return txn
}

func (s *LedgerService) applyDeduct(account *model.AccountCredit, amount credit.Amount, now time.Time, meta model.TxMeta) (*model.CreditTransaction, error) {
	account.LastUsedAt = &now
	if account.Unlimited {
		return &model.CreditTransaction{
			Type:         model.TxDeduct,
			Delta:        0,
			BalanceAfter: account.Balance,
			Metadata:     meta.JSON(),
		}, nil
	}
	if account.Available() < amount {
		return nil, ErrInsufficientCredits
	}

	account.Balance -= amount
	account.TotalUsed += amount
	expiresAt := now.AddDate(0, 0, s.usageExpiryDays())
	account.ExpiresAt = &expiresAt

	return &model.CreditTransaction{
		Type:         model.TxDeduct,
		Delta:        -amount,
		BalanceAfter: account.Balance,
		Metadata:     meta.JSON(),
	}, nil
}

func (s *LedgerService) usageExpiryDays() int {
	if s.cfg != nil && s.cfg.Credits.UsageExpiryDays > 0 {
		return s.cfg.Credits.UsageExpiryDays
	}
	return 90
}

func (s *LedgerService) purchaseExpiryDays() int {
	if s.cfg != nil && s.cfg.Credits.PurchaseExpiryDays > 0 {
		return s.cfg.Credits.PurchaseExpiryDays
	}
	return 90
}
