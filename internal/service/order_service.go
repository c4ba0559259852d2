package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qs3c/credit_ledger_server/internal/model"
	"github.com/qs3c/credit_ledger_server/internal/model/dto"
	"github.com/qs3c/credit_ledger_server/internal/pkg/gateway"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
	"github.com/qs3c/credit_ledger_server/internal/pkg/metrics"
	"github.com/qs3c/credit_ledger_server/internal/repository"
)

var (
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayTimeout     = errors.New("payment gateway timed out, failed to confirm")
)

// PaymentGateway 支付网关下单接口
type PaymentGateway interface {
	Configured() bool
	KeyID() string
	CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Order, error)
}

type OrderService struct {
	orderRepo *repository.OrderRepository
	pricing   *Pricing
	gateway   PaymentGateway
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewOrderService(
	orderRepo *repository.OrderRepository,
	pricing *Pricing,
	gw PaymentGateway,
	m *metrics.Metrics,
	logger *zap.Logger,
) *OrderService {
	return &OrderService{
		orderRepo: orderRepo,
		pricing:   pricing,
		gateway:   gw,
		metrics:   m,
		logger:    logger,
	}
}

// ListPacks 价格表
func (s *OrderService) ListPacks() dto.PackListResponse {
	return s.pricing.List()
}

// CreateOrder 按服务端价格创建网关订单，并在返回前落库
func (s *OrderService) CreateOrder(ctx context.Context, accountID ident.AccountID, packID ident.PackID, currency string, clientAmount *int64) (*dto.OrderResponse, error) {
	pack, err := s.pricing.Resolve(packID, currency)
	if err != nil {
		return nil, err
	}

	if !s.gateway.Configured() {
		return nil, ErrGatewayUnavailable
	}

	if clientAmount != nil && *clientAmount != pack.Amount {
		s.logger.Warn("client amount differs from server price",
			zap.String("pack_id", pack.ID.String()),
			zap.Int64("client_amount", *clientAmount),
			zap.Int64("server_amount", pack.Amount))
	}

	start := time.Now()
	gwOrder, err := s.gateway.CreateOrder(ctx, gateway.OrderRequest{
		Amount:   pack.Amount,
		Currency: pack.Currency,
		Receipt:  "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Notes: map[string]string{
			"account_id": accountID.String(),
			"pack_id":    pack.ID.String(),
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrTimeout):
			s.metrics.ObserveGateway("create_order", "timeout", time.Since(start))
			s.logger.Warn("gateway order timed out", zap.String("pack_id", pack.ID.String()))
			return nil, ErrGatewayTimeout
		case errors.Is(err, gateway.ErrNotConfigured):
			return nil, ErrGatewayUnavailable
		default:
			s.metrics.ObserveGateway("create_order", "error", time.Since(start))
			s.logger.Error("gateway order failed", zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
	}
	s.metrics.ObserveGateway("create_order", "ok", time.Since(start))

	orderID, err := ident.ParseOrderID(gwOrder.ID)
	if err != nil {
		s.logger.Error("gateway returned malformed order id", zap.String("order_id", gwOrder.ID))
		return nil, ErrGatewayUnavailable
	}

	order := &model.Order{
		OrderID:   orderID,
		AccountID: accountID,
		PackID:    pack.ID,
		Credits:   pack.Credits,
		Amount:    pack.Amount,
		Currency:  pack.Currency,
		Status:    model.OrderCreated,
	}
	if err := s.orderRepo.Create(context.WithoutCancel(ctx), order); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	s.logger.Info("order created",
		zap.String("order_id", orderID.String()),
		zap.String("account_id", accountID.String()),
		zap.String("pack_id", pack.ID.String()),
		zap.Int64("amount", pack.Amount))

	return &dto.OrderResponse{
		OrderID:    orderID.String(),
		Amount:     pack.Amount,
		Currency:   pack.Currency,
		GatewayKey: s.gateway.KeyID(),
		Credits:    pack.Credits,
		PackID:     pack.ID.String(),
	}, nil
}
