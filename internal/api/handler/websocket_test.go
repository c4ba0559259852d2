package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qs3c/credit_ledger_server/internal/model/dto"
	"github.com/qs3c/credit_ledger_server/internal/pkg/credit"
	"github.com/qs3c/credit_ledger_server/internal/pkg/jwt"
	"github.com/qs3c/credit_ledger_server/internal/pkg/pubsub"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ws"
	"github.com/qs3c/credit_ledger_server/internal/testutil"
)

const wsSecret = "test-secret"

func setupWebSocket(t *testing.T) (*WebSocketHandler, *ws.Hub, *httptest.Server) {
	t.Helper()

	hub := ws.NewHub(zap.NewNop())
	h := NewWebSocketHandler(hub, wsSecret, []string{"http://localhost:3000"}, zap.NewNop())

	router := gin.New()
	router.GET("/ws", h.Handle)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return h, hub, server
}

func dial(t *testing.T, server *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func TestWebSocketHandler_Rejections(t *testing.T) {
	_, _, server := setupWebSocket(t)

	anonymous, err := jwt.GenerateToken("anonymous_1234567890123456789", wsSecret, 1)
	require.NoError(t, err)
	forged, err := jwt.GenerateToken(testAccountID, "other-secret", 1)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"bad signature", forged, http.StatusUnauthorized},
		{"anonymous subject", anonymous, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := dial(t, server, tt.token)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestWebSocketHandler_RelayBalance(t *testing.T) {
	h, hub, server := setupWebSocket(t)
	_, rdb := testutil.SetupTestRedis(t)

	token, err := jwt.GenerateToken(testAccountID, wsSecret, 1)
	require.NoError(t, err)
	conn, _, err := dial(t, server, token)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.IsOnline(testAccountID) }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Relay(ctx, pubsub.NewSubscriber(rdb)) }()
	require.Eventually(t, func() bool {
		n, err := rdb.PubSubNumSub(ctx, pubsub.ChannelBalance).Result()
		return err == nil && n[pubsub.ChannelBalance] > 0
	}, time.Second, 10*time.Millisecond)

	publisher := pubsub.NewPublisher(rdb)
	require.NoError(t, publisher.PublishBalance(ctx, &pubsub.BalanceMessage{
		AccountID: "Zz9pQ9vLm2RtY7bNc4WzA1sD0eF",
		Credits:   credit.FromCredits(1),
		Reason:    pubsub.ReasonDeduct,
	}))
	require.NoError(t, publisher.PublishBalance(ctx, &pubsub.BalanceMessage{
		AccountID: testAccountID,
		Credits:   credit.FromCredits(42),
		Reason:    pubsub.ReasonPurchase,
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type string           `json:"type"`
		Data dto.BalanceEvent `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, pubsub.TypeBalance, msg.Type)
	assert.Equal(t, credit.FromCredits(42), msg.Data.Credits)
	assert.Equal(t, pubsub.ReasonPurchase, msg.Data.Reason)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestWebSocketHandler_Disconnect(t *testing.T) {
	_, hub, server := setupWebSocket(t)

	token, err := jwt.GenerateToken(testAccountID, wsSecret, 1)
	require.NoError(t, err)
	conn, _, err := dial(t, server, token)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)
	conn.Close()
	assert.Eventually(t, func() bool { return hub.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
}
