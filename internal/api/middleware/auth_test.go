package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
	"github.com/qs3c/credit_ledger_server/internal/pkg/jwt"
	"github.com/qs3c/credit_ledger_server/internal/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testJWTSecret = "test-secret-key-for-middleware"
	testAccountID = "Xk3pQ9vLm2RtY7bNc4WzA1sD0eF"
)

func parseError(t *testing.T, w *httptest.ResponseRecorder) response.ErrorBody {
	t.Helper()
	var body response.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func bearer(t *testing.T, sub string) string {
	t.Helper()
	token, err := jwt.GenerateToken(sub, testJWTSecret, 1)
	require.NoError(t, err)
	return "Bearer " + token
}

func authRouter(mw gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(mw)
	router.GET("/test", func(c *gin.Context) {
		accountID, ok := GetAccountID(c)
		c.JSON(http.StatusOK, gin.H{"account": accountID.String(), "ok": ok})
	})
	return router
}

func TestAuth_Success(t *testing.T) {
	router := authRouter(Auth(testJWTSecret))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", bearer(t, testAccountID))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, testAccountID, body["account"])
	assert.Equal(t, true, body["ok"])
}

func TestAuth_Rejections(t *testing.T) {
	router := authRouter(Auth(testJWTSecret))

	expired, err := jwt.GenerateToken(testAccountID, testJWTSecret, -1)
	require.NoError(t, err)
	foreign, err := jwt.GenerateToken(testAccountID, "other-secret", 1)
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{"missing header", "", http.StatusUnauthorized, response.CodeUnauthorized},
		{"no bearer prefix", "some-token", http.StatusUnauthorized, response.CodeUnauthorized},
		{"garbage token", "Bearer not.a.jwt", http.StatusUnauthorized, response.CodeUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, response.CodeUnauthorized},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized, response.CodeUnauthorized},
		{"anonymous subject", bearer(t, "anonymous_1234567890abcdef"), http.StatusBadRequest, response.CodeInvalidIdentifier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, parseError(t, w).Error)
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	router := authRouter(OptionalAuth(testJWTSecret))

	tests := []struct {
		name   string
		header string
		wantOK bool
	}{
		{"valid token", bearer(t, testAccountID), true},
		{"no header", "", false},
		{"invalid token", "Bearer invalid", false},
		{"anonymous subject", bearer(t, "guest_abcdefghijklmnopqrstuvwxyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantOK, body["ok"])
		})
	}
}

func TestGetAccountID(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	_, ok := GetAccountID(c)
	assert.False(t, ok)

	c.Set(AccountIDKey, "raw-string")
	_, ok = GetAccountID(c)
	assert.False(t, ok)

	c.Set(AccountIDKey, ident.AccountID(testAccountID))
	id, ok := GetAccountID(c)
	assert.True(t, ok)
	assert.Equal(t, ident.AccountID(testAccountID), id)
}
