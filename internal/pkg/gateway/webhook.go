package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
)

// 网关状态
const (
	PaymentCaptured = "captured"
	PaymentFailed   = "failed"
	OrderPaid       = "paid"
)

// Sign 计算 HMAC-SHA256(secret, body) 十六进制签名
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature 对原始请求体做常量时间比较
func VerifySignature(body []byte, signature, secret string) error {
	signature = strings.ToLower(strings.TrimSpace(signature))
	if signature == "" {
		return ErrInvalidSignature
	}
	expected := Sign(body, secret)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

// Event 归一化后的 webhook 事件
type Event struct {
	Name          string
	OrderID       string
	PaymentID     string
	PaymentStatus string
	OrderStatus   string
	Notes         map[string]string
}

// Succeeded 支付已成功（payment captured 或 order paid）
func (e *Event) Succeeded() bool {
	return e.PaymentStatus == PaymentCaptured || e.OrderStatus == OrderPaid
}

// Failed 支付失败
func (e *Event) Failed() bool {
	return !e.Succeeded() && e.PaymentStatus == PaymentFailed
}

type rawEntity struct {
	ID      string          `json:"id"`
	OrderID string          `json:"order_id"`
	Status  string          `json:"status"`
	Notes   json.RawMessage `json:"notes"`
}

type rawEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity *rawEntity `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity *rawEntity `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// ParseEvent 解析 webhook 请求体，缺失的子对象视为空
func ParseEvent(body []byte) (*Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, ErrInvalidPayload
	}

	event := &Event{Name: raw.Event, Notes: map[string]string{}}

	if raw.Payload.Order != nil && raw.Payload.Order.Entity != nil {
		order := raw.Payload.Order.Entity
		event.OrderID = order.ID
		event.OrderStatus = order.Status
		mergeNotes(event.Notes, order.Notes)
	}
	if raw.Payload.Payment != nil && raw.Payload.Payment.Entity != nil {
		payment := raw.Payload.Payment.Entity
		event.PaymentID = payment.ID
		event.PaymentStatus = payment.Status
		if payment.OrderID != "" {
			event.OrderID = payment.OrderID
		}
		mergeNotes(event.Notes, payment.Notes)
	}

	return event, nil
}

// notes 可能是对象也可能是空数组
func mergeNotes(dst map[string]string, raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var notes map[string]interface{}
	if err := json.Unmarshal(raw, &notes); err != nil {
		return
	}
	for k, v := range notes {
		if s, ok := v.(string); ok {
			dst[k] = s
		}
	}
}
