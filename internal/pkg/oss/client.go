package oss

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/qs3c/credit_ledger_server/config"
)

// ErrNotConfigured 未配置对象存储，归档任务不会执行
var ErrNotConfigured = errors.New("object storage not configured")

type Client struct {
	client     *oss.Client
	bucket     *oss.Bucket
	bucketName string
	prefix     string
}

func NewClient(cfg *config.OSSConfig) (*Client, error) {
	if cfg == nil || cfg.Endpoint == "" || cfg.BucketName == "" {
		return nil, ErrNotConfigured
	}

	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &Client{
		client:     client,
		bucket:     bucket,
		bucketName: cfg.BucketName,
		prefix:     strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ArchiveKey 归档对象的 key：<prefix>/2006/01/02/<unix纳秒>-<batch>.jsonl
func ArchiveKey(prefix string, at time.Time, batch int) string {
	at = at.UTC()
	name := fmt.Sprintf("%d-%04d.jsonl", at.UnixNano(), batch)
	return path.Join(strings.Trim(prefix, "/"), at.Format("2006/01/02"), name)
}

// ArchiveKey 使用客户端配置的前缀
func (c *Client) ArchiveKey(at time.Time, batch int) string {
	return ArchiveKey(c.prefix, at, batch)
}

// PutArchive 上传 JSON Lines 归档
func (c *Client) PutArchive(ctx context.Context, objectKey string, data []byte) error {
	err := c.bucket.PutObject(objectKey, bytes.NewReader(data),
		oss.ContentType("application/x-ndjson"),
		oss.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to upload archive: %w", err)
	}
	return nil
}

// GetSignedURL 归档对象的临时下载地址（默认1小时有效）
func (c *Client) GetSignedURL(objectKey string, expireSeconds ...int64) (string, error) {
	expire := int64(3600) // 默认1小时
	if len(expireSeconds) > 0 && expireSeconds[0] > 0 {
		expire = expireSeconds[0]
	}

	signedURL, err := c.bucket.SignURL(objectKey, oss.HTTPGet, expire)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}

	return signedURL, nil
}
