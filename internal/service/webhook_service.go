package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/credit_ledger_server/config"
	"github.com/qs3c/credit_ledger_server/internal/model"
	"github.com/qs3c/credit_ledger_server/internal/pkg/gateway"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
	"github.com/qs3c/credit_ledger_server/internal/pkg/metrics"
	"github.com/qs3c/credit_ledger_server/internal/repository"
)

var ErrInvalidSignature = gateway.ErrInvalidSignature

var errDuplicateEvent = errors.New("duplicate payment event")

type WebhookOutcome string

const (
	WebhookCredited  WebhookOutcome = "credited"
	WebhookFailed    WebhookOutcome = "failed"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
)

// WebhookService 支付回调对账，保证每个订单至多入账一次
type WebhookService struct {
	ledger    *LedgerService
	orderRepo *repository.OrderRepository
	txnRepo   *repository.TransactionRepository
	pricing   *Pricing
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       *config.Config
}

func NewWebhookService(
	ledger *LedgerService,
	orderRepo *repository.OrderRepository,
	txnRepo *repository.TransactionRepository,
	pricing *Pricing,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg *config.Config,
) *WebhookService {
	return &WebhookService{
		ledger:    ledger,
		orderRepo: orderRepo,
		txnRepo:   txnRepo,
		pricing:   pricing,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
	}
}

// Handle 校验签名并处理一次回调；返回错误时调用方不得回 200
func (s *WebhookService) Handle(ctx context.Context, body []byte, signature string) (WebhookOutcome, error) {
	outcome, err := s.handle(ctx, body, signature)
	switch {
	case err == nil:
		s.metrics.WebhookOutcome(string(outcome))
	case errors.Is(err, ErrInvalidSignature):
		s.metrics.WebhookOutcome("invalid_signature")
	default:
		s.metrics.WebhookOutcome("error")
	}
	return outcome, err
}

func (s *WebhookService) handle(ctx context.Context, body []byte, signature string) (WebhookOutcome, error) {
	secret := s.cfg.Payment.WebhookSecret
	if secret == "" {
		return "", ErrGatewayUnavailable
	}
	if err := gateway.VerifySignature(body, signature, secret); err != nil {
		return "", ErrInvalidSignature
	}

	event, err := gateway.ParseEvent(body)
	if err != nil {
		s.logger.Info("webhook payload not understood, acknowledging")
		return WebhookIgnored, nil
	}
	if event.OrderID == "" {
		return WebhookIgnored, nil
	}
	orderID, err := ident.ParseOrderID(event.OrderID)
	if err != nil {
		s.logger.Warn("webhook order id malformed", zap.String("event", event.Name))
		return WebhookIgnored, nil
	}

	if !event.Succeeded() && !event.Failed() {
		return WebhookIgnored, nil
	}

	order, err := s.loadOrder(ctx, orderID, event)
	if err != nil {
		return "", err
	}
	if order == nil {
		s.logger.Warn("webhook for unknown order", zap.String("order_id", orderID.String()), zap.String("event", event.Name))
		return WebhookIgnored, nil
	}

	if event.Succeeded() {
		return s.credit(ctx, order, event)
	}
	return s.fail(ctx, order, event)
}

// loadOrder 订单不存在时，用已验签的 notes 按服务端价格补建
func (s *WebhookService) loadOrder(ctx context.Context, orderID ident.OrderID, event *gateway.Event) (*model.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	accountID, err := ident.ParseAccountID(event.Notes["account_id"])
	if err != nil {
		return nil, nil
	}
	packID, err := ident.ParsePackID(event.Notes["pack_id"])
	if err != nil {
		return nil, nil
	}
	pack, err := s.pricing.Resolve(packID, "")
	if err != nil {
		return nil, nil
	}

	order = &model.Order{
		OrderID:   orderID,
		AccountID: accountID,
		PackID:    pack.ID,
		Credits:   pack.Credits,
		Amount:    pack.Amount,
		Currency:  pack.Currency,
		Status:    model.OrderCreated,
	}
	if err := s.orderRepo.Create(context.WithoutCancel(ctx), order); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.orderRepo.GetByID(ctx, orderID)
		}
		return nil, err
	}
	s.logger.Info("order reconstructed from webhook notes",
		zap.String("order_id", orderID.String()),
		zap.String("account_id", accountID.String()))
	return order, nil
}

func (s *WebhookService) credit(ctx context.Context, order *model.Order, event *gateway.Event) (WebhookOutcome, error) {
	dbCtx := context.WithoutCancel(ctx)
	var credited *model.Order
	_, err := s.ledger.mutate(ctx, order.AccountID, string(model.TxPurchase),
		func(tx *gorm.DB, account *model.AccountCredit, now time.Time) ([]*model.CreditTransaction, error) {
			orders := s.orderRepo.WithTx(tx)
			locked, err := orders.GetForUpdate(dbCtx, order.OrderID)
			if err != nil {
				return nil, err
			}
			if locked.Status == model.OrderCaptured {
				return nil, errDuplicateEvent
			}
			exists, err := s.txnRepo.WithTx(tx).ExistsPurchase(dbCtx, order.OrderID)
			if err != nil {
				return nil, err
			}
			if exists {
				return nil, errDuplicateEvent
			}

			moved, err := orders.Transition(dbCtx, locked.OrderID,
				[]model.OrderStatus{model.OrderCreated, model.OrderFailed}, model.OrderCaptured, event.PaymentID)
			if err != nil {
				return nil, err
			}
			if !moved {
				return nil, errDuplicateEvent
			}

			credited = locked
			// 入账金额取自订单记录，不信任回调内容
			txn := applyCredit(account, locked.Credits, s.ledger.purchaseExpiryDays(), now, model.TxPurchase, model.TxMeta{
				OrderID:   locked.OrderID.String(),
				PaymentID: event.PaymentID,
				PackID:    locked.PackID.String(),
			})
			return []*model.CreditTransaction{txn}, nil
		})

	if errors.Is(err, errDuplicateEvent) || errors.Is(err, gorm.ErrDuplicatedKey) {
		s.logger.Info("duplicate payment event", zap.String("order_id", order.OrderID.String()), zap.String("event", event.Name))
		return WebhookDuplicate, nil
	}
	if err != nil {
		s.logger.Error("credit purchase failed", zap.String("order_id", order.OrderID.String()), zap.Error(err))
		return "", err
	}

	s.logger.Info("purchase credited",
		zap.String("order_id", credited.OrderID.String()),
		zap.String("account_id", credited.AccountID.String()),
		zap.String("credits", credited.Credits.String()))
	return WebhookCredited, nil
}

func (s *WebhookService) fail(ctx context.Context, order *model.Order, event *gateway.Event) (WebhookOutcome, error) {
	moved, err := s.orderRepo.Transition(context.WithoutCancel(ctx), order.OrderID,
		[]model.OrderStatus{model.OrderCreated}, model.OrderFailed, event.PaymentID)
	if err != nil {
		return "", err
	}
	if !moved {
		return WebhookIgnored, nil
	}
	s.logger.Info("payment failed", zap.String("order_id", order.OrderID.String()))
	return WebhookFailed, nil
}
