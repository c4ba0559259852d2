// Package ident 定义各类标识符的校验类型。
// 账户 ID 必须来自可信身份服务，客户端自行生成的 ID（anonymous_、localStorage 等）一律拒绝。
package ident

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidIdentifier 所有校验失败的公共根错误
var ErrInvalidIdentifier = errors.New("invalid identifier")

var (
	ErrInvalidAccountID = fmt.Errorf("%w: account", ErrInvalidIdentifier)
	ErrInvalidOrderID   = fmt.Errorf("%w: order", ErrInvalidIdentifier)
	ErrInvalidPackID    = fmt.Errorf("%w: pack", ErrInvalidIdentifier)
	ErrInvalidDeviceID  = fmt.Errorf("%w: device", ErrInvalidIdentifier)
)

var (
	accountPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{20,128}$`)
	orderPattern   = regexp.MustCompile(`^[A-Za-z0-9_]{3,64}$`)
	packPattern    = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)
	devicePattern  = regexp.MustCompile(`^[A-Za-z0-9_.:-]{8,128}$`)
)

// 客户端生成的匿名 ID 前缀
var anonymousPrefixes = []string{
	"anonymous", "anon_", "anon-", "guest", "device_", "device-", "local_", "local-", "temp_", "tmp_",
}

type AccountID string

// ParseAccountID 校验由身份服务签发的账户 ID
func ParseAccountID(s string) (AccountID, error) {
	s = strings.TrimSpace(s)
	if !accountPattern.MatchString(s) {
		return "", ErrInvalidAccountID
	}
	lower := strings.ToLower(s)
	for _, p := range anonymousPrefixes {
		if strings.HasPrefix(lower, p) {
			return "", ErrInvalidAccountID
		}
	}
	return AccountID(s), nil
}

func (a AccountID) String() string { return string(a) }

type OrderID string

func ParseOrderID(s string) (OrderID, error) {
	s = strings.TrimSpace(s)
	if !orderPattern.MatchString(s) {
		return "", ErrInvalidOrderID
	}
	return OrderID(s), nil
}

func (o OrderID) String() string { return string(o) }

type PackID string

func ParsePackID(s string) (PackID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !packPattern.MatchString(s) {
		return "", ErrInvalidPackID
	}
	return PackID(s), nil
}

func (p PackID) String() string { return string(p) }

type DeviceID string

func ParseDeviceID(s string) (DeviceID, error) {
	s = strings.TrimSpace(s)
	if !devicePattern.MatchString(s) {
		return "", ErrInvalidDeviceID
	}
	return DeviceID(s), nil
}

func (d DeviceID) String() string { return string(d) }
