package testutil

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/qs3c/credit_ledger_server/config"
	"github.com/qs3c/credit_ledger_server/internal/model"
	"github.com/qs3c/credit_ledger_server/internal/pkg/credit"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
)

// NewAccountID 生成合法的账户 ID
func NewAccountID() ident.AccountID {
	return ident.AccountID("acct_" + strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// TestAccount 创建测试账户
func TestAccount(t *testing.T, db *gorm.DB, opts ...func(*model.AccountCredit)) *model.AccountCredit {
	t.Helper()

	account := &model.AccountCredit{
		AccountID: NewAccountID(),
	}

	for _, opt := range opts {
		opt(account)
	}

	if err := db.Create(account).Error; err != nil {
		t.Fatalf("Failed to create test account: %v", err)
	}

	return account
}

// WithBalance 设置余额（同时计入 TotalEarned 与 Baseline，保持流水对账成立）
func WithBalance(credits int64) func(*model.AccountCredit) {
	return func(a *model.AccountCredit) {
		a.Balance = credit.FromCredits(credits)
		a.TotalEarned = a.Balance
		a.Baseline = a.Balance
		expiresAt := time.Now().UTC().Add(90 * 24 * time.Hour)
		a.ExpiresAt = &expiresAt
	}
}

// WithExpiresAt 设置过期时间
func WithExpiresAt(at time.Time) func(*model.AccountCredit) {
	return func(a *model.AccountCredit) {
		a.ExpiresAt = &at
	}
}

// WithUnlimited 无限额度账户
func WithUnlimited() func(*model.AccountCredit) {
	return func(a *model.AccountCredit) {
		a.Unlimited = true
	}
}

// TestOrder 创建测试订单
func TestOrder(t *testing.T, db *gorm.DB, accountID ident.AccountID, opts ...func(*model.Order)) *model.Order {
	t.Helper()

	order := &model.Order{
		OrderID:   ident.OrderID("order_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14]),
		AccountID: accountID,
		PackID:    "starter",
		Credits:   credit.FromCredits(50),
		Amount:    11682,
		Currency:  "INR",
		Status:    model.OrderCreated,
	}

	for _, opt := range opts {
		opt(order)
	}

	if err := db.Create(order).Error; err != nil {
		t.Fatalf("Failed to create test order: %v", err)
	}

	return order
}

// WithOrderID 设置订单号
func WithOrderID(id string) func(*model.Order) {
	return func(o *model.Order) {
		o.OrderID = ident.OrderID(id)
	}
}

// WithOrderStatus 设置订单状态
func WithOrderStatus(status model.OrderStatus) func(*model.Order) {
	return func(o *model.Order) {
		o.Status = status
	}
}

// TestConfig 测试用配置
func TestConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{Secret: "test-secret"},
		Payment: config.PaymentConfig{
			Provider:      "razorpay",
			KeyID:         "rzp_test_key",
			KeySecret:     "rzp_test_secret",
			WebhookSecret: "whsec_test",
			Timeout:       2 * time.Second,
		},
		Packs: []config.PackConfig{
			{ID: "starter", Credits: "50", PriceBase: "99.00", TaxRate: "0.18", Currency: "INR"},
			{ID: "standard", Credits: "200", PriceBase: "349.00", TaxRate: "0.18", Currency: "INR"},
		},
		Credits: config.CreditsConfig{PurchaseExpiryDays: 90, UsageExpiryDays: 90},
		Billing: config.BillingConfig{
			Mode:               "reserve",
			ReservationTimeout: 15 * time.Minute,
			SweepInterval:      time.Minute,
			CommitBelowStatus:  400,
		},
		Quota: config.QuotaConfig{
			HashKey:  "test-hash-key",
			Limits:   map[string]int64{"operations": 10, "upload_mb": 50, "download_mb": 100},
			IPLimits: map[string]int64{"operations": 30, "upload_mb": 150, "download_mb": 300},
		},
		Tools: []config.ToolConfig{
			{Name: "pdf-to-text", CostPerPage: "0.5", MinCost: "0.5"},
			{Name: "ocr", CostPerPage: "1", MinCost: "1"},
		},
		Retention: config.RetentionConfig{Days: 365, BatchSize: 100},
	}
}
