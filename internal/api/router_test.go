package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qs3c/credit_ledger_server/internal/api/handler"
	"github.com/qs3c/credit_ledger_server/internal/pkg/gateway"
	"github.com/qs3c/credit_ledger_server/internal/pkg/jwt"
	"github.com/qs3c/credit_ledger_server/internal/pkg/metrics"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ws"
	"github.com/qs3c/credit_ledger_server/internal/repository"
	"github.com/qs3c/credit_ledger_server/internal/service"
	"github.com/qs3c/credit_ledger_server/internal/testutil"
)

const testAccountID = "Xk3pQ9vLm2RtY7bNc4WzA1sD0eF"

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })
	cfg := testutil.TestConfig()
	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	pricing, err := service.NewPricing(cfg.Packs)
	require.NoError(t, err)
	tools, err := service.ParseTools(cfg.Tools)
	require.NoError(t, err)

	accountRepo := repository.NewAccountRepository(db)
	txnRepo := repository.NewTransactionRepository(db)
	orderRepo := repository.NewOrderRepository(db)

	ledger := service.NewLedgerService(db, accountRepo, txnRepo, nil, m, logger, cfg)
	orders := service.NewOrderService(orderRepo, pricing, gateway.NewRazorpay("", "", "", 0), m, logger)
	webhooks := service.NewWebhookService(ledger, orderRepo, txnRepo, pricing, m, logger, cfg)
	quota := service.NewQuotaService(repository.NewQuotaRepository(db), nil, m, logger, cfg)
	billing := service.NewBillingService(ledger, repository.NewReservationRepository(db), tools, m, logger, cfg)

	toolHandler, err := handler.NewToolHandler(tools, logger)
	require.NoError(t, err)

	h := Handlers{
		Credit:    handler.NewCreditHandler(ledger, orders, logger),
		Webhook:   handler.NewWebhookHandler(webhooks, logger),
		Quota:     handler.NewQuotaHandler(quota, logger),
		Tool:      toolHandler,
		WebSocket: handler.NewWebSocketHandler(ws.NewHub(logger), cfg.JWT.Secret, nil, logger),
		Health:    handler.NewHealthHandler(db, nil),
	}
	return NewRouter(h, billing, quota, m, reg, logger, cfg).Setup()
}

func request(router *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouter_Routes(t *testing.T) {
	router := setupRouter(t)
	token, err := jwt.GenerateToken(testAccountID, "test-secret", 1)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"packs are public", http.MethodGet, "/api/v1/credits/packs", "", http.StatusOK},
		{"balance needs auth", http.MethodGet, "/api/v1/credits/balance", "", http.StatusUnauthorized},
		{"balance", http.MethodGet, "/api/v1/credits/balance", token, http.StatusOK},
		{"history", http.MethodGet, "/api/v1/credits/history", token, http.StatusOK},
		{"webhook without signature", http.MethodPost, "/api/v1/credits/webhook", "", http.StatusBadRequest},
		{"order without body", http.MethodPost, "/api/v1/credits/order", token, http.StatusBadRequest},
		{"tool list", http.MethodGet, "/api/v1/tools", "", http.StatusOK},
		{"unknown tool", http.MethodPost, "/api/v1/tools/nope", token, http.StatusNotFound},
		{"anonymous tool needs device", http.MethodPost, "/api/v1/tools/ocr", "", http.StatusBadRequest},
		{"quota needs device", http.MethodGet, "/api/v1/quota", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := request(router, tt.method, tt.path, tt.token)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestRouter_Metrics(t *testing.T) {
	router := setupRouter(t)
	request(router, http.MethodGet, "/api/v1/credits/packs", "")

	w := request(router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `credit_http_requests_total{method="GET",route="/api/v1/credits/packs",status="200"} 1`))
}
