package credit

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Amount
	}{
		{"0", 0},
		{"1", 100},
		{"0.5", 50},
		{"12.34", 1234},
		{"50.00", 5000},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse("-1")
	assert.ErrorIs(t, err, ErrNegativeAmount)

	_, err = Parse("0.001")
	assert.ErrorIs(t, err, ErrPrecision)

	_, err = Parse("ten")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAmount_JSON(t *testing.T) {
	t.Run("marshal as number", func(t *testing.T) {
		data, err := json.Marshal(map[string]Amount{"a": 3000, "b": 50})
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":30,"b":0.5}`, string(data))
	})

	t.Run("unmarshal number and string", func(t *testing.T) {
		var v struct {
			A Amount `json:"a"`
			B Amount `json:"b"`
		}
		require.NoError(t, json.Unmarshal([]byte(`{"a":20,"b":"1.5"}`), &v))
		assert.Equal(t, Amount(2000), v.A)
		assert.Equal(t, Amount(150), v.B)
	})

	t.Run("unmarshal rejects negative", func(t *testing.T) {
		var v struct {
			A Amount `json:"a"`
		}
		err := json.Unmarshal([]byte(`{"a":-5}`), &v)
		assert.Error(t, err)
	})
}

func TestAmount_Mul(t *testing.T) {
	half := FromCredits(1) / 2
	assert.Equal(t, Amount(150), half.Mul(decimal.NewFromInt(3)))
	assert.Equal(t, Amount(34), Amount(33).Mul(decimal.RequireFromString("1.01")))
}

func TestAmount_Scan(t *testing.T) {
	var a Amount
	require.NoError(t, a.Scan(int64(4200)))
	assert.Equal(t, Amount(4200), a)

	require.NoError(t, a.Scan([]byte("-50")))
	assert.Equal(t, Amount(-50), a)

	v, err := a.Value()
	require.NoError(t, err)
	assert.Equal(t, int64(-50), v)
}
