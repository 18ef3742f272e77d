package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMoney_Arithmetic(t *testing.T) {
	a := ZAR(100000) // R1000.00
	b := ZAR(15000)  // R150.00

	assert.Equal(t, ZAR(115000), a.Add(b))
	assert.Equal(t, ZAR(85000), a.Subtract(b))
	assert.Equal(t, ZAR(300000), a.Multiply(3))
	assert.Equal(t, ZAR(-100000), a.Negate())
}

func TestMoney_Add_CurrencyMismatchPanics(t *testing.T) {
	assert.Panics(t, func() {
		ZAR(100).Add(USD(100))
	})
}

func TestMoney_ApplyRate(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		bps    int64
		want   int64
	}{
		{"five percent of R1000", 100000, 500, 5000},
		{"thirty percent of R1000", 100000, 3000, 30000},
		{"fifteen percent of R1000", 100000, 1500, 15000},
		{"rounds half up", 10, 500, 1},      // 0.5 cents -> 1
		{"rounds below half down", 9, 500, 0}, // 0.45 cents -> 0
		{"half away from zero when negative", -10, 500, -1},
		{"zero rate", 100000, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ZAR(tt.amount).ApplyRate(tt.bps)
			assert.Equal(t, tt.want, got.Amount)
			assert.Equal(t, "zar", got.Currency)
		})
	}
}

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "ZAR 1150.00", ZAR(115000).String())
	assert.Equal(t, "ZAR 0.05", ZAR(5).String())
	assert.Equal(t, "USD -0.50", USD(-50).String())
}

func TestMoney_Equal(t *testing.T) {
	assert.True(t, ZAR(100).Equal(New(100, "ZAR")))
	assert.False(t, ZAR(100).Equal(USD(100)))
	assert.False(t, ZAR(100).Equal(ZAR(101)))
}
