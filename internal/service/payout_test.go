package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ucpg/payment-gateway/internal/domain"
	"github.com/ucpg/payment-gateway/internal/models"
)

func currencyFor(t *testing.T, env *testEnv, code string) domain.Currency {
	t.Helper()
	c, err := env.store.Currencies().Get(context.Background(), code)
	require.NoError(t, err)
	return c
}

func TestDispatchCryptoSettlesAndReleasesEscrow(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	payment := env.cardPaymentReady(t, nil)
	usdt := currencyFor(t, env, "USDT")

	payout, err := env.payouts.Dispatch(ctx, payment.PromoLink, payment.Transaction, usdtRecipient(), usdt)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusCompleted, payout.Status)
	require.Equal(t, domain.PayoutMethodCryptoWallet, payout.Method)
	require.Equal(t, "95", payout.Amount.String())
	require.NotEmpty(t, payout.ExternalID)
	require.NotNil(t, payout.CompletedAt)

	acct, err := env.escrow.Get(ctx, *payment.Transaction.EscrowAccountID)
	require.NoError(t, err)
	require.Equal(t, "0", acct.ReservedBalance.String())
	require.Equal(t, "0", acct.TotalBalance.String())
}

func TestDispatchCardTokenSettles(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	payment := env.cardPaymentReady(t, nil)
	usdt := currencyFor(t, env, "USDT")

	payout, err := env.payouts.Dispatch(ctx, payment.PromoLink, payment.Transaction,
		models.Recipient{CardToken: "tok_visa"}, usdt)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusCompleted, payout.Status)
	require.Equal(t, domain.PayoutMethodCard, payout.Method)
}

func TestDispatchBankStaysProcessing(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	payment := env.cardPaymentReady(t, nil)
	usdt := currencyFor(t, env, "USDT")

	payout, err := env.payouts.Dispatch(ctx, payment.PromoLink, payment.Transaction,
		models.Recipient{BankDetails: map[string]any{"iban": "DE89370400440532013000"}}, usdt)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusProcessing, payout.Status)
	require.Equal(t, domain.PayoutMethodBankTransfer, payout.Method)
	require.NotEmpty(t, payout.ExternalID)

	// Funds stay reserved until the transfer is confirmed out of band.
	acct, err := env.escrow.Get(ctx, *payment.Transaction.EscrowAccountID)
	require.NoError(t, err)
	require.Equal(t, "95", acct.ReservedBalance.String())
}

func TestDispatchEmailWaitsForOperator(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	payment := env.cardPaymentReady(t, nil)
	usdt := currencyFor(t, env, "USDT")

	payout, err := env.payouts.Dispatch(ctx, payment.PromoLink, payment.Transaction,
		models.Recipient{Email: "claimant@example.com"}, usdt)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusProcessing, payout.Status)
	require.Equal(t, domain.PayoutMethodEmail, payout.Method)
	require.Empty(t, payout.ExternalID)
}

func TestDispatchIdempotentAfterCompletion(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	payment := env.cardPaymentReady(t, nil)
	usdt := currencyFor(t, env, "USDT")

	first, err := env.payouts.Dispatch(ctx, payment.PromoLink, payment.Transaction, usdtRecipient(), usdt)
	require.NoError(t, err)

	second, err := env.payouts.Dispatch(ctx, payment.PromoLink, payment.Transaction, usdtRecipient(), usdt)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, domain.PayoutStatusCompleted, second.Status)

	// Escrow was not released twice.
	acct, err := env.escrow.Get(ctx, *payment.Transaction.EscrowAccountID)
	require.NoError(t, err)
	require.Equal(t, "0", acct.TotalBalance.String())
}

func TestDispatchReopensFailedPayout(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	payment := env.cardPaymentReady(t, nil)
	usdt := currencyFor(t, env, "USDT")

	env.cryptoRail.FailNext = true
	failed, err := env.payouts.Dispatch(ctx, payment.PromoLink, payment.Transaction, usdtRecipient(), usdt)
	require.ErrorIs(t, err, domain.ErrExternalService)
	require.Equal(t, domain.PayoutStatusFailed, failed.Status)
	require.NotEmpty(t, failed.FailureReason)

	// Escrow is untouched by the failed attempt.
	acct, err := env.escrow.Get(ctx, *payment.Transaction.EscrowAccountID)
	require.NoError(t, err)
	require.Equal(t, "95", acct.ReservedBalance.String())

	// Re-dispatch with a new destination reuses the same row.
	retried, err := env.payouts.Dispatch(ctx, payment.PromoLink, payment.Transaction,
		models.Recipient{CardToken: "tok_retry"}, usdt)
	require.NoError(t, err)
	require.Equal(t, failed.ID, retried.ID)
	require.Equal(t, domain.PayoutStatusCompleted, retried.Status)
	require.Equal(t, domain.PayoutMethodCard, retried.Method)
	require.Empty(t, retried.FailureReason)
}

func TestDispatchValidatesRecipient(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	payment := env.cardPaymentReady(t, nil)
	usdt := currencyFor(t, env, "USDT")
	usd := currencyFor(t, env, "USD")

	_, err := env.payouts.Dispatch(ctx, payment.PromoLink, payment.Transaction, models.Recipient{}, usdt)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = env.payouts.Dispatch(ctx, payment.PromoLink, payment.Transaction,
		models.Recipient{CryptoAddress: "not-an-address"}, usdt)
	require.ErrorIs(t, err, domain.ErrValidation)

	// Wallet payouts need a crypto settlement currency.
	_, err = env.payouts.Dispatch(ctx, payment.PromoLink, payment.Transaction, usdtRecipient(), usd)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCompleteSettlesProcessingPayout(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	payment := env.cardPaymentReady(t, nil)
	usdt := currencyFor(t, env, "USDT")

	payout, err := env.payouts.Dispatch(ctx, payment.PromoLink, payment.Transaction,
		models.Recipient{BankDetails: map[string]any{"iban": "DE89370400440532013000"}}, usdt)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusProcessing, payout.Status)

	completed, err := env.payouts.Complete(ctx, payout.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	acct, err := env.escrow.Get(ctx, *payment.Transaction.EscrowAccountID)
	require.NoError(t, err)
	require.Equal(t, "0", acct.ReservedBalance.String())

	// Completing twice is a state conflict, not a double release.
	_, err = env.payouts.Complete(ctx, payout.ID)
	require.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestFailRequiresProcessingStatus(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	payment := env.cardPaymentReady(t, nil)
	usdt := currencyFor(t, env, "USDT")

	payout, err := env.payouts.Dispatch(ctx, payment.PromoLink, payment.Transaction,
		models.Recipient{Email: "claimant@example.com"}, usdt)
	require.NoError(t, err)

	failed, err := env.payouts.Fail(ctx, payout.ID, "recipient bank rejected the transfer")
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusFailed, failed.Status)
	require.Equal(t, "recipient bank rejected the transfer", failed.FailureReason)

	_, err = env.payouts.Fail(ctx, payout.ID, "again")
	require.ErrorIs(t, err, domain.ErrStateConflict)
}
