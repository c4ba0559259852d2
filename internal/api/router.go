package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/qs3c/credit_ledger_server/config"
	"github.com/qs3c/credit_ledger_server/internal/api/handler"
	"github.com/qs3c/credit_ledger_server/internal/api/middleware"
	"github.com/qs3c/credit_ledger_server/internal/pkg/metrics"
	"github.com/qs3c/credit_ledger_server/internal/service"
)

type Router struct {
	creditHandler    *handler.CreditHandler
	webhookHandler   *handler.WebhookHandler
	quotaHandler     *handler.QuotaHandler
	toolHandler      *handler.ToolHandler
	websocketHandler *handler.WebSocketHandler
	healthHandler    *handler.HealthHandler
	billing          *service.BillingService
	quota            *service.QuotaService
	metrics          *metrics.Metrics
	gatherer         prometheus.Gatherer
	logger           *zap.Logger
	cfg              *config.Config
}

// Handlers 路由依赖的处理器
type Handlers struct {
	Credit    *handler.CreditHandler
	Webhook   *handler.WebhookHandler
	Quota     *handler.QuotaHandler
	Tool      *handler.ToolHandler
	WebSocket *handler.WebSocketHandler
	Health    *handler.HealthHandler
}

func NewRouter(
	h Handlers,
	billing *service.BillingService,
	quota *service.QuotaService,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
	cfg *config.Config,
) *Router {
	return &Router{
		creditHandler:    h.Credit,
		webhookHandler:   h.Webhook,
		quotaHandler:     h.Quota,
		toolHandler:      h.Tool,
		websocketHandler: h.WebSocket,
		healthHandler:    h.Health,
		billing:          billing,
		quota:            quota,
		metrics:          m,
		gatherer:         gatherer,
		logger:           logger,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.RequestLogger(r.logger, r.metrics))
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	engine.GET("/health", r.healthHandler.Check)
	if r.gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
	}

	api := engine.Group("/api/v1")
	{
		// WebSocket
		api.GET("/ws", r.websocketHandler.Handle)

		// 公开接口 - 价格表与支付回调
		credits := api.Group("/credits")
		{
			credits.GET("/packs", r.creditHandler.Packs)
			credits.POST("/webhook", r.webhookHandler.Handle)
		}

		// 需要认证的接口
		authenticated := api.Group("/credits")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			authenticated.POST("/order", r.creditHandler.CreateOrder)
			authenticated.GET("/balance", r.creditHandler.Balance)
			authenticated.POST("/deduct", r.creditHandler.Deduct)
			authenticated.GET("/history", r.creditHandler.History)
		}

		// 匿名设备额度
		api.GET("/quota", r.quotaHandler.GetQuota)

		// 计费工具（可选认证：登录扣积分，匿名扣额度）
		api.GET("/tools", r.toolHandler.List)
		tools := api.Group("/tools")
		tools.Use(middleware.OptionalAuth(r.cfg.JWT.Secret))
		{
			tools.POST("/:tool", middleware.Meter(r.billing, r.quota, r.logger), r.toolHandler.Proxy)
		}
	}

	return engine
}
