package service

import (
	"testing"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/credit_ledger_server/config"
	"github.com/qs3c/credit_ledger_server/internal/repository"
	"github.com/qs3c/credit_ledger_server/internal/testutil"
)

type testEnv struct {
	db          *gorm.DB
	cfg         *config.Config
	accountRepo *repository.AccountRepository
	txnRepo     *repository.TransactionRepository
	orderRepo   *repository.OrderRepository
	resRepo     *repository.ReservationRepository
	ledger      *LedgerService
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	cfg := testutil.TestConfig()
	env := &testEnv{
		db:          db,
		cfg:         cfg,
		accountRepo: repository.NewAccountRepository(db),
		txnRepo:     repository.NewTransactionRepository(db),
		orderRepo:   repository.NewOrderRepository(db),
		resRepo:     repository.NewReservationRepository(db),
	}
	env.ledger = NewLedgerService(db, env.accountRepo, env.txnRepo, nil, nil, zap.NewNop(), cfg)
	return env
}

func (e *testEnv) pricing(t *testing.T) *Pricing {
	t.Helper()
	p, err := NewPricing(e.cfg.Packs)
	if err != nil {
		t.Fatalf("Failed to build pricing: %v", err)
	}
	return p
}
