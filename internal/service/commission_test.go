package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ucpg/payment-gateway/internal/domain"
	"github.com/ucpg/payment-gateway/internal/models"
)

func saveSetting(t *testing.T, env *testEnv, currency *string, providerID *uuid.UUID, rate string) {
	t.Helper()
	require.NoError(t, env.commission.SaveSetting(context.Background(), &models.CommissionSetting{
		CurrencyCode: currency,
		ProviderID:   providerID,
		Rate:         decimal.RequireFromString(rate),
		IsActive:     true,
	}))
}

func TestResolveWaterfallPrecedence(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	provider := models.Provider{
		ID:             uuid.New(),
		Name:           "acme",
		APIKey:         "key-waterfall",
		CommissionRate: decimal.RequireFromString("0.04"),
		IsActive:       true,
	}
	require.NoError(t, env.store.Providers().Create(ctx, provider))

	usdt := "USDT"

	// Nothing configured: system default.
	rate, err := env.commission.Resolve(ctx, usdt, &provider.ID)
	require.NoError(t, err)
	require.Equal(t, "0.04", rate.String()) // provider's own rate beats the default

	// Global scope.
	saveSetting(t, env, nil, nil, "0.02")
	rate, err = env.commission.Resolve(ctx, usdt, nil)
	require.NoError(t, err)
	require.Equal(t, "0.02", rate.String())

	// Currency scope beats global.
	saveSetting(t, env, &usdt, nil, "0.03")
	rate, err = env.commission.Resolve(ctx, usdt, nil)
	require.NoError(t, err)
	require.Equal(t, "0.03", rate.String())

	// The provider's own rate beats the currency scope.
	rate, err = env.commission.Resolve(ctx, usdt, &provider.ID)
	require.NoError(t, err)
	require.Equal(t, "0.04", rate.String())

	// Provider scope beats the provider's own rate.
	saveSetting(t, env, nil, &provider.ID, "0.06")
	rate, err = env.commission.Resolve(ctx, usdt, &provider.ID)
	require.NoError(t, err)
	require.Equal(t, "0.06", rate.String())

	// Provider+currency scope wins over everything.
	saveSetting(t, env, &usdt, &provider.ID, "0.07")
	rate, err = env.commission.Resolve(ctx, usdt, &provider.ID)
	require.NoError(t, err)
	require.Equal(t, "0.07", rate.String())

	// Other currencies for the same provider fall through to provider scope.
	eur := "EUR"
	rate, err = env.commission.Resolve(ctx, eur, &provider.ID)
	require.NoError(t, err)
	require.Equal(t, "0.06", rate.String())
}

func TestResolveSystemDefault(t *testing.T) {
	env := newTestEnv(t, 0)

	rate, err := env.commission.Resolve(context.Background(), "USDT", nil)
	require.NoError(t, err)
	require.Equal(t, "0.05", rate.String())
}

func TestSaveSettingRejectsOutOfRangeRates(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	err := env.commission.SaveSetting(ctx, &models.CommissionSetting{
		Rate: decimal.RequireFromString("0.26"),
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	err = env.commission.SaveSetting(ctx, &models.CommissionSetting{
		Rate: decimal.RequireFromString("-0.01"),
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestSaveSettingRejectsUnknownCurrency(t *testing.T) {
	env := newTestEnv(t, 0)
	code := "XYZ"

	err := env.commission.SaveSetting(context.Background(), &models.CommissionSetting{
		CurrencyCode: &code,
		Rate:         decimal.RequireFromString("0.02"),
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestSaveSettingNormalizesCurrencyAndLists(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	code := "usdt"

	setting := &models.CommissionSetting{
		CurrencyCode: &code,
		Rate:         decimal.RequireFromString("0.02"),
		IsActive:     true,
	}
	require.NoError(t, env.commission.SaveSetting(ctx, setting))
	require.Equal(t, "USDT", *setting.CurrencyCode)

	settings, err := env.commission.ListSettings(ctx)
	require.NoError(t, err)
	require.Len(t, settings, 1)

	require.NoError(t, env.commission.DeleteSetting(ctx, settings[0].ID))
	err = env.commission.DeleteSetting(ctx, settings[0].ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCalculateUsesCurrencyPrecision(t *testing.T) {
	env := newTestEnv(t, 0)

	usd := domain.Currency{Code: "USD", DecimalPlaces: 2}
	commission, net := env.commission.Calculate(
		decimal.RequireFromString("100.01"), decimal.RequireFromString("0.05"), usd)
	require.Equal(t, "5", commission.String())
	require.Equal(t, "95.01", net.String())
	require.True(t, commission.Add(net).Equal(decimal.RequireFromString("100.01")))
}
