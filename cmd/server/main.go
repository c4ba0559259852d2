package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/qs3c/credit_ledger_server/config"
	"github.com/qs3c/credit_ledger_server/internal/api"
	"github.com/qs3c/credit_ledger_server/internal/api/handler"
	"github.com/qs3c/credit_ledger_server/internal/database"
	"github.com/qs3c/credit_ledger_server/internal/pkg/cron"
	"github.com/qs3c/credit_ledger_server/internal/pkg/gateway"
	"github.com/qs3c/credit_ledger_server/internal/pkg/logger"
	"github.com/qs3c/credit_ledger_server/internal/pkg/metrics"
	"github.com/qs3c/credit_ledger_server/internal/pkg/oss"
	"github.com/qs3c/credit_ledger_server/internal/pkg/pubsub"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ws"
	"github.com/qs3c/credit_ledger_server/internal/repository"
	"github.com/qs3c/credit_ledger_server/internal/service"
)

func main() {
	// 加载配置
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

	// 初始化数据库
	db, err := database.New(&cfg.Database)
	if err != nil {
		zl.Fatal("failed to connect database", zap.Error(err))
	}
	if err := database.AutoMigrate(db); err != nil {
		zl.Fatal("failed to migrate database", zap.Error(err))
	}
	zl.Info("database connected", zap.String("driver", cfg.Database.Driver))

	// 初始化 Redis（可选）
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		zl.Fatal("failed to connect redis", zap.Error(err))
	}
	if rdb == nil {
		zl.Warn("redis not configured, ip quota and balance push disabled")
	}

	// 指标
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 价格与工具
	pricing, err := service.NewPricing(cfg.Packs)
	if err != nil {
		zl.Fatal("invalid pack config", zap.Error(err))
	}
	tools, err := service.ParseTools(cfg.Tools)
	if err != nil {
		zl.Fatal("invalid tool config", zap.Error(err))
	}

	// 初始化 Repository
	accountRepo := repository.NewAccountRepository(db)
	txnRepo := repository.NewTransactionRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	quotaRepo := repository.NewQuotaRepository(db)
	resRepo := repository.NewReservationRepository(db)

	// 初始化 Service
	publisher := pubsub.NewPublisher(rdb)
	gw := gateway.NewRazorpay(cfg.Payment.BaseURL, cfg.Payment.KeyID, cfg.Payment.KeySecret, cfg.Payment.Timeout)
	if !gw.Configured() {
		zl.Warn("payment gateway not configured, order creation disabled")
	}
	ledgerService := service.NewLedgerService(db, accountRepo, txnRepo, publisher, m, zl, cfg)
	orderService := service.NewOrderService(orderRepo, pricing, gw, m, zl)
	webhookService := service.NewWebhookService(ledgerService, orderRepo, txnRepo, pricing, m, zl, cfg)
	quotaService := service.NewQuotaService(quotaRepo, rdb, m, zl, cfg)
	billingService := service.NewBillingService(ledgerService, resRepo, tools, m, zl, cfg)

	// 定时任务：预留清理与流水归档
	var retainer cron.Retainer
	if cfg.Retention.Enabled {
		archiver, err := oss.NewClient(&cfg.OSS)
		if err != nil {
			zl.Fatal("retention enabled but object storage unavailable", zap.Error(err))
		}
		retainer = service.NewRetentionService(db, accountRepo, txnRepo, archiver, m, zl, &cfg.Retention)
	}
	cronService := cron.NewService(billingService, retainer, cfg.Billing.SweepInterval, cfg.Retention.Interval, zl)
	cronService.Start()

	// WebSocket 与余额推送
	wsHub := ws.NewHub(zl)
	websocketHandler := handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret, cfg.CORS.AllowedOrigins, zl)
	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	if rdb != nil {
		go func() {
			err := websocketHandler.Relay(relayCtx, pubsub.NewSubscriber(rdb))
			if err != nil && !errors.Is(err, context.Canceled) {
				zl.Error("balance relay stopped", zap.Error(err))
			}
		}()
	}

	// 初始化 Handler
	toolHandler, err := handler.NewToolHandler(tools, zl)
	if err != nil {
		zl.Fatal("invalid tool upstream", zap.Error(err))
	}
	handlers := api.Handlers{
		Credit:    handler.NewCreditHandler(ledgerService, orderService, zl),
		Webhook:   handler.NewWebhookHandler(webhookService, zl),
		Quota:     handler.NewQuotaHandler(quotaService, zl),
		Tool:      toolHandler,
		WebSocket: websocketHandler,
		Health:    handler.NewHealthHandler(db, rdb),
	}

	// 初始化 Router
	router := api.NewRouter(handlers, billingService, quotaService, m, reg, zl, cfg)
	engine := router.Setup()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zl.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zl.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zl.Error("server shutdown failed", zap.Error(err))
	}

	stopRelay()
	cronService.Stop()
	if rdb != nil {
		rdb.Close()
	}
	if err := database.Close(db); err != nil {
		zl.Error("database close failed", zap.Error(err))
	}
	zl.Info("server stopped")
}
