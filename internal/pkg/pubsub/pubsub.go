package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/qs3c/credit_ledger_server/internal/pkg/credit"
)

const (
	ChannelBalance = "credit_balance"

	// TypeBalance 余额消息类型，同时用作 WebSocket 推送的 type
	TypeBalance = "balance"
)

// 余额变更原因
const (
	ReasonPurchase = "purchase"
	ReasonDeduct   = "deduct"
	ReasonExpire   = "expire"
	ReasonReserve  = "reserve"
	ReasonRelease  = "release"
	ReasonRefund   = "refund"
)

// BalanceMessage 余额变更消息
type BalanceMessage struct {
	Type      string        `json:"type"`
	AccountID string        `json:"account_id"`
	Credits   credit.Amount `json:"credits"`
	Reserved  credit.Amount `json:"reserved"`
	Reason    string        `json:"reason"`
	Timestamp time.Time     `json:"timestamp"`
}

// Publisher Redis 发布者，client 为 nil 时不推送
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishBalance 发布余额变更，在账本事务提交后调用
func (p *Publisher) PublishBalance(ctx context.Context, msg *BalanceMessage) error {
	if p == nil || p.client == nil {
		return nil
	}
	msg.Type = TypeBalance
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal balance message: %w", err)
	}

	return p.client.Publish(ctx, ChannelBalance, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅余额消息，直到 ctx 结束
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*BalanceMessage)) error {
	pubsub := s.client.Subscribe(ctx, ChannelBalance)
	defer pubsub.Close()

	// 等待订阅确认，避免丢失紧随其后的消息
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var balanceMsg BalanceMessage
			if err := json.Unmarshal([]byte(msg.Payload), &balanceMsg); err != nil {
				continue // 忽略解析错误
			}

			handler(&balanceMsg)
		}
	}
}
