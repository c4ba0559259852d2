package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/credit_ledger_server/internal/model"
	"github.com/qs3c/credit_ledger_server/internal/testutil"
)

func TestOrderRepository_Transition(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewOrderRepository(db)
	ctx := context.Background()
	order := testutil.TestOrder(t, db, testutil.NewAccountID())

	ok, err := repo.Transition(ctx, order.OrderID,
		[]model.OrderStatus{model.OrderCreated}, model.OrderFailed, "")
	require.NoError(t, err)
	assert.True(t, ok)

	// failed -> captured 允许
	ok, err = repo.Transition(ctx, order.OrderID,
		[]model.OrderStatus{model.OrderCreated, model.OrderFailed}, model.OrderCaptured, "pay_1")
	require.NoError(t, err)
	assert.True(t, ok)

	// captured 为终态
	ok, err = repo.Transition(ctx, order.OrderID,
		[]model.OrderStatus{model.OrderCreated}, model.OrderFailed, "")
	require.NoError(t, err)
	assert.False(t, ok)

	found, err := repo.GetForUpdate(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCaptured, found.Status)
	assert.Equal(t, "pay_1", found.PaymentID)
}

func TestOrderRepository_ListByAccount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewOrderRepository(db)
	accountID := testutil.NewAccountID()
	testutil.TestOrder(t, db, accountID)
	testutil.TestOrder(t, db, accountID)
	testutil.TestOrder(t, db, testutil.NewAccountID())

	orders, err := repo.ListByAccount(context.Background(), accountID, 10)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}
