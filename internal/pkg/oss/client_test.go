package oss

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/credit_ledger_server/config"
)

func TestNewClient_NotConfigured(t *testing.T) {
	_, err := NewClient(nil)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewClient(&config.OSSConfig{Endpoint: "oss-cn-hangzhou.aliyuncs.com"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestArchiveKey(t *testing.T) {
	at := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)

	key := ArchiveKey("/ledger-archive/", at, 3)
	assert.True(t, strings.HasPrefix(key, "ledger-archive/2026/10/16/"))
	assert.True(t, strings.HasSuffix(key, "-0003.jsonl"))

	assert.True(t, strings.HasPrefix(ArchiveKey("", at, 0), "2026/10/16/"))
}

func TestClient_SignedURL(t *testing.T) {
	client, err := NewClient(&config.OSSConfig{
		Endpoint:        "oss-cn-hangzhou.aliyuncs.com",
		AccessKeyID:     "ak",
		AccessKeySecret: "sk",
		BucketName:      "ledger",
		Prefix:          "archive",
	})
	require.NoError(t, err)

	key := client.ArchiveKey(time.Now(), 1)
	assert.True(t, strings.HasPrefix(key, "archive/"))

	url, err := client.GetSignedURL(key, 60)
	require.NoError(t, err)
	assert.Contains(t, url, "ledger.oss-cn-hangzhou.aliyuncs.com")
	assert.Contains(t, url, "Signature=")
}
