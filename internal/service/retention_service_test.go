package service

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qs3c/credit_ledger_server/internal/model"
	"github.com/qs3c/credit_ledger_server/internal/pkg/credit"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
	"github.com/qs3c/credit_ledger_server/internal/testutil"
)

type memArchiver struct {
	objects map[string][]byte
	err     error
}

func (a *memArchiver) ArchiveKey(at time.Time, batch int) string {
	return fmt.Sprintf("test/%s-%04d.jsonl", at.Format("20060102"), batch)
}

func (a *memArchiver) PutArchive(_ context.Context, key string, data []byte) error {
	if a.err != nil {
		return a.err
	}
	if a.objects == nil {
		a.objects = map[string][]byte{}
	}
	a.objects[key] = data
	return nil
}

func setupRetention(t *testing.T, archiver Archiver) (*testEnv, *RetentionService) {
	t.Helper()

	env := setupEnv(t)
	env.cfg.Retention.BatchSize = 2
	svc := NewRetentionService(env.db, env.accountRepo, env.txnRepo, archiver, nil, zap.NewNop(), &env.cfg.Retention)
	return env, svc
}

// seedHistory 一笔旧购买、三笔旧扣费、一笔新扣费
func seedHistory(t *testing.T, env *testEnv) *model.AccountCredit {
	t.Helper()
	ctx := context.Background()

	account := testutil.TestAccount(t, env.db)
	_, err := env.ledger.AddCredits(ctx, account.AccountID, credit.FromCredits(50), 90, model.TxPurchase, model.TxMeta{OrderID: "order_retention01"})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := env.ledger.DeductCredits(ctx, account.AccountID, credit.FromCredits(2), model.TxMeta{Tool: "ocr"})
		require.NoError(t, err)
	}

	old := time.Now().UTC().AddDate(0, 0, -400)
	var ids []int64
	require.NoError(t, env.db.Model(&model.CreditTransaction{}).
		Where("account_id = ?", account.AccountID).
		Order("id ASC").Limit(4).
		Pluck("id", &ids).Error)
	require.NoError(t, env.db.Model(&model.CreditTransaction{}).
		Where("id IN ?", ids).
		Update("created_at", old).Error)
	return account
}

func TestRetentionService_ArchivesAndPrunes(t *testing.T) {
	archiver := &memArchiver{}
	env, svc := setupRetention(t, archiver)
	ctx := context.Background()
	account := seedHistory(t, env)

	report, err := svc.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Archived)
	assert.Equal(t, int64(3), report.Deleted)
	assert.Equal(t, 2, report.Batches)
	assert.Equal(t, 1, report.Accounts)
	assert.Len(t, archiver.objects, 2)

	lines := 0
	for _, data := range archiver.objects {
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			assert.Contains(t, scanner.Text(), `"type":"deduct"`)
			lines++
		}
	}
	assert.Equal(t, 3, lines)

	var remaining []model.CreditTransaction
	require.NoError(t, env.db.Where("account_id = ?", account.AccountID).Order("id ASC").Find(&remaining).Error)
	require.Len(t, remaining, 2)
	assert.Equal(t, model.TxPurchase, remaining[0].Type)
	assert.Equal(t, model.TxDeduct, remaining[1].Type)

	stored, err := env.accountRepo.Get(ctx, account.AccountID)
	require.NoError(t, err)
	assert.Equal(t, -credit.FromCredits(6), stored.Baseline)
	assert.Equal(t, credit.FromCredits(42), stored.Balance)

	ok, err := env.ledger.Audit(ctx, account.AccountID)
	require.NoError(t, err)
	assert.True(t, ok)

	// 购买流水仍是幂等键
	exists, err := env.txnRepo.ExistsPurchase(ctx, ident.OrderID("order_retention01"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRetentionService_DryRun(t *testing.T) {
	env, svc := setupRetention(t, nil)
	account := seedHistory(t, env)

	report, err := svc.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Archived)
	assert.Zero(t, report.Deleted)

	var count int64
	require.NoError(t, env.db.Model(&model.CreditTransaction{}).Where("account_id = ?", account.AccountID).Count(&count).Error)
	assert.Equal(t, int64(5), count)
}

func TestRetentionService_NoArchiver(t *testing.T) {
	env, svc := setupRetention(t, nil)
	seedHistory(t, env)

	_, err := svc.Run(context.Background(), false)
	assert.ErrorIs(t, err, ErrArchiveNotConfigured)

	var count int64
	require.NoError(t, env.db.Model(&model.CreditTransaction{}).Count(&count).Error)
	assert.Equal(t, int64(5), count)
}

func TestRetentionService_UploadFailureKeepsRows(t *testing.T) {
	archiver := &memArchiver{err: errors.New("oss down")}
	env, svc := setupRetention(t, archiver)
	account := seedHistory(t, env)

	_, err := svc.Run(context.Background(), false)
	assert.Error(t, err)

	var count int64
	require.NoError(t, env.db.Model(&model.CreditTransaction{}).Count(&count).Error)
	assert.Equal(t, int64(5), count)

	ok, err := env.ledger.Audit(context.Background(), account.AccountID)
	require.NoError(t, err)
	assert.True(t, ok)
}
