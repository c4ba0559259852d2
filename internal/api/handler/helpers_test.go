package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/credit_ledger_server/config"
	"github.com/qs3c/credit_ledger_server/internal/api/middleware"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
	"github.com/qs3c/credit_ledger_server/internal/pkg/response"
	"github.com/qs3c/credit_ledger_server/internal/repository"
	"github.com/qs3c/credit_ledger_server/internal/service"
	"github.com/qs3c/credit_ledger_server/internal/testutil"
)

const testAccountID = "Xk3pQ9vLm2RtY7bNc4WzA1sD0eF"

func init() {
	gin.SetMode(gin.TestMode)
}

type testContext struct {
	DB          *gorm.DB
	Config      *config.Config
	OrderRepo   *repository.OrderRepository
	Ledger      *service.LedgerService
	Pricing     *service.Pricing
	AccountRepo *repository.AccountRepository
	TxnRepo     *repository.TransactionRepository
}

func setupTestContext(t *testing.T) *testContext {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })
	cfg := testutil.TestConfig()

	pricing, err := service.NewPricing(cfg.Packs)
	require.NoError(t, err)

	ctx := &testContext{
		DB:          db,
		Config:      cfg,
		OrderRepo:   repository.NewOrderRepository(db),
		AccountRepo: repository.NewAccountRepository(db),
		TxnRepo:     repository.NewTransactionRepository(db),
		Pricing:     pricing,
	}
	ctx.Ledger = service.NewLedgerService(db, ctx.AccountRepo, ctx.TxnRepo, nil, nil, zap.NewNop(), cfg)
	return ctx
}

func mockAuth(accountID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.AccountIDKey, ident.AccountID(accountID))
		c.Next()
	}
}

func performRequest(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	switch b := body.(type) {
	case nil:
		reqBody = bytes.NewBuffer(nil)
	case string:
		reqBody = bytes.NewBufferString(b)
	default:
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func parseError(t *testing.T, w *httptest.ResponseRecorder) response.ErrorBody {
	t.Helper()
	var body response.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}
