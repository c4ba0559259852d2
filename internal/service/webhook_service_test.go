package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qs3c/credit_ledger_server/internal/model"
	"github.com/qs3c/credit_ledger_server/internal/pkg/credit"
	"github.com/qs3c/credit_ledger_server/internal/pkg/gateway"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
	"github.com/qs3c/credit_ledger_server/internal/testutil"
)

func setupWebhook(t *testing.T) (*testEnv, *WebhookService) {
	t.Helper()

	env := setupEnv(t)
	svc := NewWebhookService(env.ledger, env.orderRepo, env.txnRepo, env.pricing(t), nil, zap.NewNop(), env.cfg)
	return env, svc
}

func capturedPayload(orderID string, notes string) []byte {
	if notes == "" {
		notes = "[]"
	}
	return []byte(fmt.Sprintf(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_29QQoUBi66xm2f","order_id":%q,"status":"captured","notes":%s}}}}`, orderID, notes))
}

func failedPayload(orderID string) []byte {
	return []byte(fmt.Sprintf(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_failed0001","order_id":%q,"status":"failed","notes":[]}}}}`, orderID))
}

func sign(body []byte) string {
	return gateway.Sign(body, "whsec_test")
}

func TestWebhookService_CreditsOnce(t *testing.T) {
	env, svc := setupWebhook(t)
	ctx := context.Background()
	account := testutil.TestAccount(t, env.db)
	order := testutil.TestOrder(t, env.db, account.AccountID)

	body := capturedPayload(order.OrderID.String(), "")
	outcome, err := svc.Handle(ctx, body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookCredited, outcome)

	for i := 0; i < 3; i++ {
		outcome, err = svc.Handle(ctx, body, sign(body))
		require.NoError(t, err)
		assert.Equal(t, WebhookDuplicate, outcome)
	}

	balance, err := env.ledger.Balance(ctx, account.AccountID)
	require.NoError(t, err)
	assert.Equal(t, credit.FromCredits(50), balance.Credits)

	stored, err := env.orderRepo.GetByID(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCaptured, stored.Status)
	assert.Equal(t, "pay_29QQoUBi66xm2f", stored.PaymentID)

	history, err := env.ledger.History(ctx, account.AccountID, 10, "")
	require.NoError(t, err)
	require.Len(t, history.Transactions, 1)
	assert.Equal(t, order.OrderID.String(), history.Transactions[0].OrderID)
}

func TestWebhookService_ConcurrentReplays(t *testing.T) {
	env, svc := setupWebhook(t)
	ctx := context.Background()
	account := testutil.TestAccount(t, env.db)
	order := testutil.TestOrder(t, env.db, account.AccountID)
	body := capturedPayload(order.OrderID.String(), "")

	var wg sync.WaitGroup
	var mu sync.Mutex
	outcomes := map[WebhookOutcome]int{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := svc.Handle(ctx, body, sign(body))
			assert.NoError(t, err)
			mu.Lock()
			outcomes[outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[WebhookCredited])
	assert.Equal(t, 7, outcomes[WebhookDuplicate])

	balance, err := env.ledger.Balance(ctx, account.AccountID)
	require.NoError(t, err)
	assert.Equal(t, credit.FromCredits(50), balance.Credits)
}

func TestWebhookService_InvalidSignature(t *testing.T) {
	env, svc := setupWebhook(t)
	ctx := context.Background()
	account := testutil.TestAccount(t, env.db)
	order := testutil.TestOrder(t, env.db, account.AccountID)

	body := capturedPayload(order.OrderID.String(), "")
	signature := sign(body)
	tampered := append([]byte{}, body...)
	tampered[len(tampered)-3] = ' '

	_, err := svc.Handle(ctx, tampered, signature)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = svc.Handle(ctx, body, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	balance, err := env.ledger.Balance(ctx, account.AccountID)
	require.NoError(t, err)
	assert.Equal(t, credit.Amount(0), balance.Credits)
}

func TestWebhookService_NoSecret(t *testing.T) {
	env, svc := setupWebhook(t)
	env.cfg.Payment.WebhookSecret = ""

	body := capturedPayload("order_N5kz8GqU1a2b3c", "")
	_, err := svc.Handle(context.Background(), body, sign(body))
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestWebhookService_IgnoredEvents(t *testing.T) {
	_, svc := setupWebhook(t)
	ctx := context.Background()

	bodies := [][]byte{
		[]byte(`not json`),
		[]byte(`{"event":"payment.captured","payload":{}}`),
		[]byte(`{"event":"payment.authorized","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_N5kz8GqU1a2b3c","status":"authorized"}}}}`),
		[]byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"bad id!","status":"captured"}}}}`),
		capturedPayload("order_unknown000001", ""),
	}
	for _, body := range bodies {
		outcome, err := svc.Handle(ctx, body, sign(body))
		require.NoError(t, err, string(body))
		assert.Equal(t, WebhookIgnored, outcome, string(body))
	}
}

func TestWebhookService_FallbackFromNotes(t *testing.T) {
	env, svc := setupWebhook(t)
	ctx := context.Background()
	accountID := testutil.NewAccountID()

	notes := fmt.Sprintf(`{"account_id":%q,"pack_id":"starter"}`, accountID.String())
	body := capturedPayload("order_fallback00001", notes)

	outcome, err := svc.Handle(ctx, body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookCredited, outcome)

	order, err := env.orderRepo.GetByID(ctx, "order_fallback00001")
	require.NoError(t, err)
	assert.Equal(t, accountID, order.AccountID)
	assert.Equal(t, model.OrderCaptured, order.Status)
	assert.Equal(t, int64(11682), order.Amount)

	balance, err := env.ledger.Balance(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, credit.FromCredits(50), balance.Credits)

	// 匿名账户的 notes 不会补建订单
	anon := capturedPayload("order_fallback00002", `{"account_id":"anonymous_1234567890abcdef","pack_id":"starter"}`)
	outcome, err = svc.Handle(ctx, anon, sign(anon))
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, outcome)
}

func TestWebhookService_ExistingPurchaseIsDuplicate(t *testing.T) {
	env, svc := setupWebhook(t)
	ctx := context.Background()
	account := testutil.TestAccount(t, env.db)
	order := testutil.TestOrder(t, env.db, account.AccountID, testutil.WithOrderID("ord_123"))

	orderID := ident.OrderID("ord_123")
	require.NoError(t, env.txnRepo.Create(ctx, &model.CreditTransaction{
		AccountID:       account.AccountID,
		Type:            model.TxPurchase,
		Delta:           credit.FromCredits(50),
		BalanceAfter:    credit.FromCredits(50),
		PurchaseOrderID: &orderID,
	}))

	body := capturedPayload(order.OrderID.String(), "")
	outcome, err := svc.Handle(ctx, body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, outcome)

	stored, err := env.accountRepo.Get(ctx, account.AccountID)
	require.NoError(t, err)
	assert.Equal(t, credit.Amount(0), stored.Balance)
}

func TestWebhookService_FailedThenCaptured(t *testing.T) {
	env, svc := setupWebhook(t)
	ctx := context.Background()
	account := testutil.TestAccount(t, env.db)
	order := testutil.TestOrder(t, env.db, account.AccountID)

	failed := failedPayload(order.OrderID.String())
	outcome, err := svc.Handle(ctx, failed, sign(failed))
	require.NoError(t, err)
	assert.Equal(t, WebhookFailed, outcome)

	stored, err := env.orderRepo.GetByID(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFailed, stored.Status)

	captured := capturedPayload(order.OrderID.String(), "")
	outcome, err = svc.Handle(ctx, captured, sign(captured))
	require.NoError(t, err)
	assert.Equal(t, WebhookCredited, outcome)

	// 已入账订单的失败回调不会回退状态
	outcome, err = svc.Handle(ctx, failed, sign(failed))
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, outcome)

	stored, err = env.orderRepo.GetByID(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCaptured, stored.Status)
}

func TestWebhookService_OrderPaidEvent(t *testing.T) {
	env, svc := setupWebhook(t)
	ctx := context.Background()
	account := testutil.TestAccount(t, env.db)
	order := testutil.TestOrder(t, env.db, account.AccountID)

	body := []byte(fmt.Sprintf(`{"event":"order.paid","payload":{"order":{"entity":{"id":%q,"status":"paid","notes":{}}}}}`, order.OrderID.String()))
	outcome, err := svc.Handle(ctx, body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookCredited, outcome)

	balance, err := env.ledger.Balance(ctx, account.AccountID)
	require.NoError(t, err)
	assert.Equal(t, credit.FromCredits(50), balance.Credits)
}
