package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ucpg/payment-gateway/internal/domain"
	"github.com/ucpg/payment-gateway/internal/models"
)

func escrowBalances(t *testing.T, env *testEnv, acct models.EscrowAccount) models.EscrowAccount {
	t.Helper()
	got, err := env.escrow.Get(context.Background(), acct.ID)
	require.NoError(t, err)
	return got
}

func TestEscrowAccountForIsIdempotent(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	a, err := env.escrow.AccountFor(ctx, domain.PaymentMethodCard, "USDT")
	require.NoError(t, err)
	require.Equal(t, domain.EscrowRailCard, a.RailType)

	b, err := env.escrow.AccountFor(ctx, domain.PaymentMethodCard, "USDT")
	require.NoError(t, err)
	require.Equal(t, a.ID, b.ID)

	c, err := env.escrow.AccountFor(ctx, domain.PaymentMethodCryptoDeposit, "USDT")
	require.NoError(t, err)
	require.NotEqual(t, a.ID, c.ID)
	require.Equal(t, domain.EscrowRailCrypto, c.RailType)
}

func TestEscrowDepositReserveReleaseInvariants(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	acct, err := env.escrow.AccountFor(ctx, domain.PaymentMethodCard, "USDT")
	require.NoError(t, err)

	require.NoError(t, env.escrow.Deposit(ctx, acct.ID, decimal.NewFromInt(100)))
	got := escrowBalances(t, env, acct)
	require.Equal(t, "100", got.TotalBalance.String())
	require.Equal(t, "100", got.AvailableBalance.String())
	require.Equal(t, "0", got.ReservedBalance.String())

	require.NoError(t, env.escrow.Reserve(ctx, acct.ID, decimal.NewFromInt(60)))
	got = escrowBalances(t, env, acct)
	require.Equal(t, "100", got.TotalBalance.String())
	require.Equal(t, "40", got.AvailableBalance.String())
	require.Equal(t, "60", got.ReservedBalance.String())

	require.NoError(t, env.escrow.Release(ctx, acct.ID, decimal.NewFromInt(60)))
	got = escrowBalances(t, env, acct)
	require.Equal(t, "40", got.TotalBalance.String())
	require.Equal(t, "40", got.AvailableBalance.String())
	require.Equal(t, "0", got.ReservedBalance.String())
}

func TestEscrowReturnRestoresAvailable(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	acct, err := env.escrow.AccountFor(ctx, domain.PaymentMethodCryptoDeposit, "BTC")
	require.NoError(t, err)
	require.NoError(t, env.escrow.Deposit(ctx, acct.ID, decimal.NewFromInt(2)))
	require.NoError(t, env.escrow.Reserve(ctx, acct.ID, decimal.NewFromInt(2)))

	require.NoError(t, env.escrow.Return(ctx, acct.ID, decimal.NewFromInt(2)))
	got := escrowBalances(t, env, acct)
	require.Equal(t, "2", got.TotalBalance.String())
	require.Equal(t, "2", got.AvailableBalance.String())
	require.Equal(t, "0", got.ReservedBalance.String())
}

func TestEscrowRejectsOverdraw(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	acct, err := env.escrow.AccountFor(ctx, domain.PaymentMethodCard, "EUR")
	require.NoError(t, err)
	require.NoError(t, env.escrow.Deposit(ctx, acct.ID, decimal.NewFromInt(10)))

	err = env.escrow.Reserve(ctx, acct.ID, decimal.NewFromInt(11))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	require.NoError(t, env.escrow.Reserve(ctx, acct.ID, decimal.NewFromInt(10)))
	err = env.escrow.Release(ctx, acct.ID, decimal.NewFromInt(11))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	err = env.escrow.Return(ctx, acct.ID, decimal.NewFromInt(11))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestEscrowRejectsNonPositiveAmounts(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	acct, err := env.escrow.AccountFor(ctx, domain.PaymentMethodCard, "USD")
	require.NoError(t, err)

	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-5)} {
		require.ErrorIs(t, env.escrow.Deposit(ctx, acct.ID, amount), domain.ErrValidation)
		require.ErrorIs(t, env.escrow.Reserve(ctx, acct.ID, amount), domain.ErrValidation)
		require.ErrorIs(t, env.escrow.Release(ctx, acct.ID, amount), domain.ErrValidation)
		require.ErrorIs(t, env.escrow.Return(ctx, acct.ID, amount), domain.ErrValidation)
	}
}

func TestEscrowConcurrentReserveNeverOverdraws(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	acct, err := env.escrow.AccountFor(ctx, domain.PaymentMethodCard, "USDT")
	require.NoError(t, err)
	require.NoError(t, env.escrow.Deposit(ctx, acct.ID, decimal.NewFromInt(100)))

	var (
		wg   sync.WaitGroup
		wins int64
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if env.escrow.Reserve(ctx, acct.ID, decimal.NewFromInt(30)) == nil {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 3, wins)
	got := escrowBalances(t, env, acct)
	require.Equal(t, "10", got.AvailableBalance.String())
	require.Equal(t, "90", got.ReservedBalance.String())
}
