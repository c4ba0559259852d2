package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/credit_ledger_server/config"
	"github.com/qs3c/credit_ledger_server/internal/database"
	"github.com/qs3c/credit_ledger_server/internal/model"
	"github.com/qs3c/credit_ledger_server/internal/pkg/credit"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
	"github.com/qs3c/credit_ledger_server/internal/pkg/logger"
	"github.com/qs3c/credit_ledger_server/internal/repository"
	"github.com/qs3c/credit_ledger_server/internal/service"
)

const usage = `Usage: ledgerctl <command> [flags]

Commands:
  grant     -account ID -amount N [-reason TEXT] [-days N]   add an adjustment credit
  unlimited -account ID [-off]                              grant or revoke unlimited credits
  audit     -account ID                                     check baseline + deltas == balance
  balance   -account ID                                     print the balance view
  sweep                                                     release stale reservations now
`

type app struct {
	db      *gorm.DB
	ledger  *service.LedgerService
	billing *service.BillingService
	logger  *zap.Logger
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zl.Sync()

	db, err := database.New(&cfg.Database)
	if err != nil {
		zl.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close(db)

	a, err := newApp(db, zl, cfg)
	if err != nil {
		zl.Fatal("failed to init ledger", zap.Error(err))
	}
	if err := a.run(context.Background(), os.Args[1], os.Args[2:]); err != nil {
		zl.Error("command failed", zap.String("command", os.Args[1]), zap.Error(err))
		os.Exit(1)
	}
}

func newApp(db *gorm.DB, zl *zap.Logger, cfg *config.Config) (*app, error) {
	tools, err := service.ParseTools(cfg.Tools)
	if err != nil {
		return nil, err
	}
	ledger := service.NewLedgerService(db, repository.NewAccountRepository(db), repository.NewTransactionRepository(db), nil, nil, zl, cfg)
	return &app{
		db:      db,
		ledger:  ledger,
		billing: service.NewBillingService(ledger, repository.NewReservationRepository(db), tools, nil, zl, cfg),
		logger:  zl,
	}, nil
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	account := fs.String("account", "", "account id issued by the identity service")

	switch cmd {
	case "grant":
		amount := fs.String("amount", "", "credits to add, up to 2 decimals")
		reason := fs.String("reason", "manual adjustment", "reason stored in transaction metadata")
		days := fs.Int("days", 0, "expiry days (0 leaves expiry unchanged)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		id, err := ident.ParseAccountID(*account)
		if err != nil {
			return err
		}
		value, err := credit.Parse(*amount)
		if err != nil {
			return err
		}
		if _, err := a.ledger.AddCredits(ctx, id, value, *days, model.TxAdjustment, model.TxMeta{Reason: *reason}); err != nil {
			return err
		}
		return a.printBalance(ctx, id)

	case "unlimited":
		off := fs.Bool("off", false, "revoke instead of grant")
		if err := fs.Parse(args); err != nil {
			return err
		}
		id, err := ident.ParseAccountID(*account)
		if err != nil {
			return err
		}
		if err := a.ledger.SetUnlimited(ctx, id, !*off); err != nil {
			return err
		}
		return a.printBalance(ctx, id)

	case "audit":
		if err := fs.Parse(args); err != nil {
			return err
		}
		id, err := ident.ParseAccountID(*account)
		if err != nil {
			return err
		}
		ok, err := a.ledger.Audit(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("account %s: balance does not match transaction history", id)
		}
		a.logger.Info("audit passed", zap.String("account_id", id.String()))
		return nil

	case "balance":
		if err := fs.Parse(args); err != nil {
			return err
		}
		id, err := ident.ParseAccountID(*account)
		if err != nil {
			return err
		}
		return a.printBalance(ctx, id)

	case "sweep":
		if err := fs.Parse(args); err != nil {
			return err
		}
		released, err := a.billing.SweepStale(ctx)
		if err != nil {
			return err
		}
		a.logger.Info("stale reservations released", zap.Int("released", released))
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) printBalance(ctx context.Context, id ident.AccountID) error {
	balance, err := a.ledger.Balance(ctx, id)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(balance)
}
