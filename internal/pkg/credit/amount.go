// Package credit 积分定点数表示：存储与计算统一使用 1/100 积分为单位的整数，
// 十进制解析只发生在入口处。
package credit

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale 1 积分 = 100 单位
const Scale = 100

const scaleExp = 2

var (
	ErrNegativeAmount = errors.New("credit amount must not be negative")
	ErrPrecision      = errors.New("credit amount supports at most 2 decimal places")
	ErrInvalidAmount  = errors.New("invalid credit amount")
)

// Amount 积分数量（单位为 1/100 积分）
type Amount int64

// FromCredits 整数积分
func FromCredits(n int64) Amount {
	return Amount(n * Scale)
}

// Parse 解析十进制积分字符串，拒绝负数与超过两位小数的值
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromDecimal(d)
}

// FromDecimal 转换为定点整数
func FromDecimal(d decimal.Decimal) (Amount, error) {
	if d.IsNegative() {
		return 0, ErrNegativeAmount
	}
	scaled := d.Shift(scaleExp)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, ErrPrecision
	}
	if !scaled.IsInteger() || scaled.GreaterThan(decimal.NewFromInt(1<<53)) {
		return 0, ErrInvalidAmount
	}
	return Amount(scaled.IntPart()), nil
}

// Decimal 转为十进制表示
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -scaleExp)
}

func (a Amount) String() string {
	return a.Decimal().String()
}

// Mul 按页数等系数放大，结果向上取整到最小单位
func (a Amount) Mul(factor decimal.Decimal) Amount {
	return Amount(decimal.NewFromInt(int64(a)).Mul(factor).Ceil().IntPart())
}

// MarshalJSON 输出 JSON 数字，如 30 或 0.5
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON 接受 JSON 数字或字符串
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return ErrInvalidAmount
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return ErrInvalidAmount
		}
		raw = s
	}
	v, err := Parse(raw)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Value 实现 driver.Valuer，数据库中以整数存储
func (a Amount) Value() (driver.Value, error) {
	return int64(a), nil
}

// Scan 实现 sql.Scanner
func (a *Amount) Scan(src interface{}) error {
	switch v := src.(type) {
	case int64:
		*a = Amount(v)
	case int32:
		*a = Amount(v)
	case int:
		*a = Amount(v)
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return err
		}
		*a = Amount(d.IntPart())
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		*a = Amount(d.IntPart())
	case nil:
		*a = 0
	default:
		return fmt.Errorf("credit: cannot scan %T into Amount", src)
	}
	return nil
}
