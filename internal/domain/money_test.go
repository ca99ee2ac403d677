package domain

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSplitCommissionSumsExactly(t *testing.T) {
	amount := decimal.RequireFromString("100.01")
	rate := decimal.RequireFromString("0.0299")

	commission, net := SplitCommission(amount, rate, 2)

	require.Equal(t, "2.99", commission.String())
	require.Equal(t, "97.02", net.String())
	require.True(t, commission.Add(net).Equal(amount))
}

func TestSplitCommissionNeverDrifts(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		amount := decimal.New(rng.Int63n(1_000_000_000_000), -8)
		rate := decimal.New(rng.Int63n(2500), -4)
		places := int32(rng.Intn(9))

		commission, net := SplitCommission(amount, rate, places)
		require.True(t, commission.Add(net).Equal(amount),
			"amount=%s rate=%s places=%d", amount, rate, places)
	}
}

func TestSplitCommissionCryptoPrecision(t *testing.T) {
	amount := decimal.RequireFromString("0.12345678")
	rate := decimal.RequireFromString("0.05")

	commission, net := SplitCommission(amount, rate, 8)

	require.True(t, commission.Add(net).Equal(amount))
	require.True(t, commission.Exponent() >= -8)
}

func TestSplitCommissionZeroRate(t *testing.T) {
	amount := decimal.NewFromInt(100)

	commission, net := SplitCommission(amount, decimal.Zero, 2)

	require.True(t, commission.IsZero())
	require.True(t, net.Equal(amount))
}

func TestConvertRoundsToTargetPrecision(t *testing.T) {
	amount := decimal.NewFromInt(100)
	rate := decimal.RequireFromString("0.925555")

	require.Equal(t, "92.56", Convert(amount, rate, 2).String())
	require.Equal(t, "92.5555", Convert(amount, rate, 8).String())
}

func TestRoundHalfUp(t *testing.T) {
	require.Equal(t, "10.13", Round(decimal.RequireFromString("10.125"), 2).String())
	require.Equal(t, "10.12", Round(decimal.RequireFromString("10.124"), 2).String())
}
