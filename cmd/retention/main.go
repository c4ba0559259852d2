package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/qs3c/credit_ledger_server/config"
	"github.com/qs3c/credit_ledger_server/internal/database"
	"github.com/qs3c/credit_ledger_server/internal/pkg/logger"
	"github.com/qs3c/credit_ledger_server/internal/pkg/oss"
	"github.com/qs3c/credit_ledger_server/internal/repository"
	"github.com/qs3c/credit_ledger_server/internal/service"
)

var (
	dryRun    = flag.Bool("dry-run", true, "Dry run mode, only count transactions that would be archived")
	days      = flag.Int("days", 0, "Override retention days (0 uses config)")
	batchSize = flag.Int("batch-size", 0, "Override archive batch size (0 uses config)")
	linkTTL   = flag.Int64("link-ttl", 3600, "Seconds the printed archive download links stay valid")
)

func main() {
	flag.Parse()

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

	retention := cfg.Retention
	if *days > 0 {
		retention.Days = *days
	}
	if *batchSize > 0 {
		retention.BatchSize = *batchSize
	}

	// 连接数据库
	db, err := database.New(&cfg.Database)
	if err != nil {
		zl.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close(db)

	// 归档目标，dry-run 不需要
	var archiver service.Archiver
	var client *oss.Client
	if !*dryRun {
		client, err = oss.NewClient(&cfg.OSS)
		if err != nil {
			zl.Fatal("object storage unavailable", zap.Error(err))
		}
		archiver = client
	}

	svc := service.NewRetentionService(
		db,
		repository.NewAccountRepository(db),
		repository.NewTransactionRepository(db),
		archiver,
		nil,
		zl,
		&retention,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zl.Info("retention started",
		zap.Bool("dry_run", *dryRun),
		zap.Int("days", retention.Days),
		zap.Int("batch_size", retention.BatchSize))

	report, err := svc.Run(ctx, *dryRun)
	if report != nil {
		zl.Info("retention summary",
			zap.Time("cutoff", report.Cutoff),
			zap.Int("batches", report.Batches),
			zap.Int("archived", report.Archived),
			zap.Int64("deleted", report.Deleted),
			zap.Int("accounts", report.Accounts),
			zap.Strings("objects", report.Objects))
	}
	if report != nil && client != nil {
		for _, key := range report.Objects {
			url, err := client.GetSignedURL(key, *linkTTL)
			if err != nil {
				zl.Warn("sign archive url failed", zap.String("object", key), zap.Error(err))
				continue
			}
			zl.Info("archive object", zap.String("object", key), zap.String("url", url))
		}
	}
	if err != nil {
		zl.Fatal("retention failed", zap.Error(err))
	}
	if *dryRun {
		zl.Info("dry run, nothing was archived or deleted; rerun with -dry-run=false")
	}
}
