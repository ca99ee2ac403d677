package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ucpg/payment-gateway/internal/domain"
	"github.com/ucpg/payment-gateway/internal/models"
	"github.com/ucpg/payment-gateway/internal/rail"
)

// downProvider never answers, to exercise the fallback chain.
type downProvider struct{}

func (downProvider) Name() string { return "down" }

func (downProvider) FetchRate(context.Context, string, string) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("connection refused")
}

func TestGetRateSamePairIsOne(t *testing.T) {
	env := newTestEnv(t, 0)

	rate, err := env.exchange.GetRate(context.Background(), "USD", "USD")
	require.NoError(t, err)
	require.True(t, rate.Equal(decimal.NewFromInt(1)))
}

func TestGetRatePersistsObservation(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	rate, err := env.exchange.GetRate(ctx, "BTC", "USDT")
	require.NoError(t, err)
	require.Equal(t, "65000", rate.String())

	obs, err := env.store.Rates().Latest(ctx, "BTC", "USDT", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	require.Equal(t, "static", obs.Source)
	require.True(t, obs.Rate.Equal(rate))
}

func TestGetRatePrefersFreshObservation(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	first, err := env.exchange.GetRate(ctx, "ETH", "USDT")
	require.NoError(t, err)

	// A market move inside the freshness window is not consulted.
	env.rates.SetRate("ETH", decimal.NewFromInt(9999))
	second, err := env.exchange.GetRate(ctx, "ETH", "USDT")
	require.NoError(t, err)
	require.True(t, second.Equal(first))
}

func TestGetRateFallsThroughProviderChain(t *testing.T) {
	env := newTestEnv(t, 0)
	svc := NewExchangeService(env.store, nil,
		[]rail.RateProvider{downProvider{}, env.rates}, time.Hour, time.Hour)

	rate, err := svc.GetRate(context.Background(), "EUR", "USD")
	require.NoError(t, err)
	require.Equal(t, "1.087", rate.String())
}

func TestGetRateAllProvidersDown(t *testing.T) {
	env := newTestEnv(t, 0)
	svc := NewExchangeService(env.store, nil, []rail.RateProvider{downProvider{}}, time.Hour, time.Hour)

	_, err := svc.GetRate(context.Background(), "USD", "EUR")
	require.ErrorIs(t, err, domain.ErrExternalService)
}

func TestConvertRoundsToTargetCurrency(t *testing.T) {
	env := newTestEnv(t, 0)
	usd := domain.Currency{Code: "USD", DecimalPlaces: 2}
	btc := domain.Currency{Code: "BTC", DecimalPlaces: 8, IsCrypto: true}

	converted, rate, err := env.exchange.Convert(context.Background(), decimal.NewFromInt(100), usd, btc)
	require.NoError(t, err)
	require.True(t, rate.IsPositive())
	require.True(t, converted.Exponent() >= -8)
	require.True(t, converted.IsPositive())
}

func TestUpdateAllRatesCoversActivePairs(t *testing.T) {
	env := newTestEnv(t, 0)

	// 6 seeded active currencies: 30 ordered pairs.
	updated, err := env.exchange.UpdateAllRates(context.Background())
	require.NoError(t, err)
	require.Equal(t, 30, updated)

	obs, err := env.store.Rates().Latest(context.Background(), "GBP", "BTC", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, obs.Rate.IsPositive())
}

func TestUpdateAllRatesSkipsUnquotablePairs(t *testing.T) {
	env := newTestEnv(t, 0)
	require.NoError(t, env.store.Currencies().Upsert(context.Background(), domain.Currency{
		Code: "JPY", Name: "Yen", DecimalPlaces: 0, IsActive: true,
	}))

	// The static provider cannot quote JPY; those pairs are skipped.
	updated, err := env.exchange.UpdateAllRates(context.Background())
	require.NoError(t, err)
	require.Equal(t, 30, updated)
}

func TestCleanupOldRates(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	require.NoError(t, env.store.Rates().Insert(ctx, models.ExchangeRate{
		FromCurrency: "USD", ToCurrency: "EUR",
		Rate: decimal.RequireFromString("0.92"), Source: "static",
		Timestamp: time.Now().UTC().Add(-30 * 24 * time.Hour),
	}))
	require.NoError(t, env.store.Rates().Insert(ctx, models.ExchangeRate{
		FromCurrency: "USD", ToCurrency: "EUR",
		Rate: decimal.RequireFromString("0.93"), Source: "static",
		Timestamp: time.Now().UTC(),
	}))

	removed, err := env.exchange.CleanupOldRates(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}
