package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qs3c/credit_ledger_server/internal/model/dto"
	"github.com/qs3c/credit_ledger_server/internal/pkg/response"
	"github.com/qs3c/credit_ledger_server/internal/repository"
	"github.com/qs3c/credit_ledger_server/internal/service"
)

func setupQuotaHandler(t *testing.T) (*gin.Engine, *service.QuotaService) {
	t.Helper()

	ctx := setupTestContext(t)
	quota := service.NewQuotaService(repository.NewQuotaRepository(ctx.DB), nil, nil, zap.NewNop(), ctx.Config)
	h := NewQuotaHandler(quota, zap.NewNop())

	router := gin.New()
	router.GET("/quota", h.GetQuota)
	return router, quota
}

func TestQuotaHandler_GetQuota(t *testing.T) {
	router, quota := setupQuotaHandler(t)
	require.NoError(t, quota.CheckAndIncrement(context.Background(), "dev-7f3a9c21", "10.0.0.1", "operations", 3))

	w := performRequest(router, http.MethodGet, "/quota?deviceId=dev-7f3a9c21", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var info dto.QuotaInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, int64(3), info.Usage["operations"])
	assert.Equal(t, int64(7), info.Remain["operations"])
	assert.Equal(t, int64(10), info.Limits["operations"])
}

func TestQuotaHandler_DeviceFromHeader(t *testing.T) {
	router, _ := setupQuotaHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/quota", nil)
	req.Header.Set("X-Device-ID", "dev-header-01")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var info dto.QuotaInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, int64(10), info.Remain["operations"])
}

func TestQuotaHandler_InvalidDevice(t *testing.T) {
	router, _ := setupQuotaHandler(t)

	for _, path := range []string{"/quota", "/quota?deviceId=x"} {
		w := performRequest(router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Equal(t, response.CodeInvalidIdentifier, parseError(t, w).Error)
	}
}
