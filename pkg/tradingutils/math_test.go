package tradingutils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRoundPrice(t *testing.T) {
	cases := []struct {
		name  string
		price string
		tick  string
		want  string
	}{
		{"exact multiple", "60000", "0.1", "60000"},
		{"rounds down", "60000.04", "0.1", "60000"},
		{"rounds up", "60000.05", "0.1", "60000.1"},
		{"coarse tick", "60007", "5", "60005"},
		{"sub-unit tick", "0.123456", "0.0001", "0.1235"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RoundPrice(d(tc.price), d(tc.tick))
			assert.True(t, got.Equal(d(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

func TestRoundPriceIsTickMultiple(t *testing.T) {
	tick := d("0.1")
	for _, p := range []string{"59999.99", "60000.149", "3.14159", "0.05"} {
		got := RoundPrice(d(p), tick)
		assert.True(t, got.Mod(tick).IsZero(), "%s is not a multiple of %s", got, tick)
	}
}

func TestRoundQuantityFloorsToStep(t *testing.T) {
	got := RoundQuantity(d("0.0041666"), d("0.001"), d("0.001"))
	assert.True(t, got.Equal(d("0.004")), "got %s", got)
}

func TestRoundQuantityFloorsToMinimum(t *testing.T) {
	// 0.0004 floors to zero, then the minimum applies.
	got := RoundQuantity(d("0.0004"), d("0.001"), d("0.001"))
	assert.True(t, got.Equal(d("0.001")), "got %s", got)
}

func TestRoundQuantityIsStepMultiple(t *testing.T) {
	step := d("0.001")
	for _, q := range []string{"0.0099", "1.23456", "0.001"} {
		got := RoundQuantity(d(q), step, d("0.001"))
		assert.True(t, got.Mod(step).IsZero(), "%s is not a multiple of %s", got, step)
		assert.True(t, got.GreaterThanOrEqual(d("0.001")))
	}
}

func TestFormatTenDigits(t *testing.T) {
	assert.Equal(t, "60000.0000000000", Format(d("60000")))
	assert.Equal(t, "1260.0000000000", Format(d("1260")))
	assert.Equal(t, "0.0040000000", Format(d("0.004")))
}

func TestPctOf(t *testing.T) {
	got := PctOf(d("63000"), d("2"))
	assert.True(t, got.Equal(d("1260")), "got %s", got)
}
