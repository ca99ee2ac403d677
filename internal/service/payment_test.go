package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ucpg/payment-gateway/internal/domain"
	"github.com/ucpg/payment-gateway/internal/models"
	"github.com/ucpg/payment-gateway/internal/rail"
)

func pendingWebhookEvents(t *testing.T, env *testEnv) []string {
	t.Helper()
	due, err := env.store.Webhooks().Due(context.Background(), time.Now().UTC(), MaxWebhookAttempts, 100)
	require.NoError(t, err)
	events := make([]string, 0, len(due))
	for _, wh := range due {
		events = append(events, wh.Event)
	}
	return events
}

func TestCreatePaymentSplitsCommission(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	provider := env.createProvider(t, "https://acme.example/hooks")

	payment, err := env.payments.CreatePayment(ctx, CreatePaymentInput{
		Amount:            decimal.NewFromInt(100),
		OriginalCurrency:  "usd",
		ConvertedCurrency: "usdt",
		PaymentMethod:     domain.PaymentMethodCard,
		ProviderID:        &provider.ID,
	})
	require.NoError(t, err)

	tx := payment.Transaction
	require.Equal(t, domain.TxStatusPending, tx.Status)
	require.Equal(t, "USD", tx.OriginalCurrency)
	require.Equal(t, "USDT", tx.ConvertedCurrency)
	require.Equal(t, "100", tx.ConvertedAmount.String())
	require.Equal(t, "5", tx.CommissionAmount.String())
	require.Equal(t, "95", tx.NetAmount.String())
	require.True(t, tx.CommissionAmount.Add(tx.NetAmount).Equal(tx.ConvertedAmount))
	require.True(t, tx.ExpiresAt.After(time.Now().UTC().Add(23*time.Hour)))

	require.NotEmpty(t, payment.PromoLink.Code)
	require.Equal(t, tx.ID, payment.PromoLink.TransactionID)

	require.Equal(t, []string{domain.WebhookEventPaymentCreated}, pendingWebhookEvents(t, env))
}

func TestCreatePaymentValidation(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreatePaymentInput
	}{
		{"non-positive amount", CreatePaymentInput{
			Amount: decimal.Zero, OriginalCurrency: "USD", ConvertedCurrency: "USDT",
			PaymentMethod: domain.PaymentMethodCard,
		}},
		{"unknown method", CreatePaymentInput{
			Amount: decimal.NewFromInt(10), OriginalCurrency: "USD", ConvertedCurrency: "USDT",
			PaymentMethod: "cheque",
		}},
		{"unknown currency", CreatePaymentInput{
			Amount: decimal.NewFromInt(10), OriginalCurrency: "XYZ", ConvertedCurrency: "USDT",
			PaymentMethod: domain.PaymentMethodCard,
		}},
		{"crypto deposit in fiat", CreatePaymentInput{
			Amount: decimal.NewFromInt(10), OriginalCurrency: "USD", ConvertedCurrency: "USDT",
			PaymentMethod: domain.PaymentMethodCryptoDeposit,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.payments.CreatePayment(ctx, tc.in)
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestCreatePaymentRejectsInactiveProvider(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	provider := models.Provider{ID: uuid.New(), Name: "dormant", APIKey: "key-dormant"}
	require.NoError(t, env.store.Providers().Create(ctx, provider))

	_, err := env.payments.CreatePayment(ctx, CreatePaymentInput{
		Amount: decimal.NewFromInt(10), OriginalCurrency: "USD", ConvertedCurrency: "USDT",
		PaymentMethod: domain.PaymentMethodCard, ProviderID: &provider.ID,
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	unknown := uuid.New()
	_, err = env.payments.CreatePayment(ctx, CreatePaymentInput{
		Amount: decimal.NewFromInt(10), OriginalCurrency: "USD", ConvertedCurrency: "USDT",
		PaymentMethod: domain.PaymentMethodCard, ProviderID: &unknown,
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCardFlowReachesReadyForClaim(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	payment := env.cardPaymentReady(t, nil)

	tx := payment.Transaction
	require.Equal(t, domain.TxStatusReadyForClaim, tx.Status)
	require.NotNil(t, tx.EscrowAccountID)
	require.NotEmpty(t, tx.CardIntentID)

	acct, err := env.escrow.Get(ctx, *tx.EscrowAccountID)
	require.NoError(t, err)
	require.Equal(t, "95", acct.TotalBalance.String())
	require.Equal(t, "0", acct.AvailableBalance.String())
	require.Equal(t, "95", acct.ReservedBalance.String())

	history, err := env.payments.History(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusReadyForClaim, history[len(history)-1].NewStatus)
}

func TestCardConfirmFailureFailsPayment(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	provider := env.createProvider(t, "https://acme.example/hooks")

	payment, err := env.payments.CreatePayment(ctx, CreatePaymentInput{
		Amount: decimal.NewFromInt(100), OriginalCurrency: "USD", ConvertedCurrency: "USDT",
		PaymentMethod: domain.PaymentMethodCard, ProviderID: &provider.ID,
	})
	require.NoError(t, err)

	_, err = env.payments.CreateCardIntent(ctx, payment.Transaction.ID)
	require.NoError(t, err)

	env.cardRail.FailNext = true
	_, err = env.payments.ConfirmCardPayment(ctx, payment.Transaction.ID, "pm_test")
	require.ErrorIs(t, err, domain.ErrExternalService)

	got, err := env.payments.GetPayment(ctx, payment.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusFailed, got.Transaction.Status)

	require.ElementsMatch(t,
		[]string{domain.WebhookEventPaymentCreated, domain.WebhookEventPaymentFailed},
		pendingWebhookEvents(t, env))
}

func TestCardIntentRequiresPendingCardPayment(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	payment := env.cardPaymentReady(t, nil)

	_, err := env.payments.CreateCardIntent(ctx, payment.Transaction.ID)
	require.ErrorIs(t, err, domain.ErrStateConflict)

	crypto, err := env.payments.CreatePayment(ctx, CreatePaymentInput{
		Amount: decimal.NewFromInt(1), OriginalCurrency: "ETH", ConvertedCurrency: "USDT",
		PaymentMethod: domain.PaymentMethodCryptoDeposit,
	})
	require.NoError(t, err)
	_, err = env.payments.CreateCardIntent(ctx, crypto.Transaction.ID)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCryptoDepositFlow(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	payment, err := env.payments.CreatePayment(ctx, CreatePaymentInput{
		Amount: decimal.NewFromInt(1), OriginalCurrency: "ETH", ConvertedCurrency: "USDT",
		PaymentMethod: domain.PaymentMethodCryptoDeposit,
	})
	require.NoError(t, err)

	deposit, err := env.payments.GenerateDepositAddress(ctx, payment.Transaction.ID)
	require.NoError(t, err)
	require.NotEmpty(t, deposit.Address)
	require.Contains(t, deposit.PaymentURI, deposit.Address)

	// Repeated calls return the same open deposit.
	again, err := env.payments.GenerateDepositAddress(ctx, payment.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, deposit.Address, again.Address)

	// Nothing on chain yet.
	_, confirmed, err := env.payments.CheckCryptoDeposit(ctx, payment.Transaction.ID)
	require.NoError(t, err)
	require.False(t, confirmed)

	env.cryptoRail.SetDeposit(deposit.Address, rail.DepositStatus{
		Confirmed:     true,
		Confirmations: 12,
		TxHash:        "0xabc123",
		Amount:        decimal.NewFromInt(1),
	})
	tx, confirmed, err := env.payments.CheckCryptoDeposit(ctx, payment.Transaction.ID)
	require.NoError(t, err)
	require.True(t, confirmed)
	require.Equal(t, domain.TxStatusReadyForClaim, tx.Status)
	require.Equal(t, "0xabc123", tx.CryptoTxHash)
	require.NotNil(t, tx.EscrowAccountID)

	acct, err := env.escrow.Get(ctx, *tx.EscrowAccountID)
	require.NoError(t, err)
	require.Equal(t, domain.EscrowRailCrypto, acct.RailType)
	require.Equal(t, tx.NetAmount.String(), acct.ReservedBalance.String())
}

func TestClaimCompletesPaymentEndToEnd(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	provider := env.createProvider(t, "https://acme.example/hooks")
	payment := env.cardPaymentReady(t, &provider.ID)

	info, err := env.payments.GetClaimInfo(ctx, payment.PromoLink.Code)
	require.NoError(t, err)
	require.True(t, info.Valid)
	require.Equal(t, "95", info.Amount.String())
	require.Equal(t, "USDT", info.Currency)
	require.Positive(t, info.Remaining)

	payout, err := env.payments.Claim(ctx, payment.PromoLink.Code, usdtRecipient(), "203.0.113.9")
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusCompleted, payout.Status)

	got, err := env.payments.GetPayment(ctx, payment.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusCompleted, got.Transaction.Status)
	require.NotNil(t, got.Transaction.CompletedAt)
	require.True(t, got.PromoLink.IsUsed)
	require.Equal(t, "203.0.113.9", got.PromoLink.Origin)

	acct, err := env.escrow.Get(ctx, *got.Transaction.EscrowAccountID)
	require.NoError(t, err)
	require.Equal(t, "0", acct.TotalBalance.String())

	require.ElementsMatch(t,
		[]string{domain.WebhookEventPaymentCreated, domain.WebhookEventPaymentCompleted},
		pendingWebhookEvents(t, env))
}

func TestClaimIsExactlyOnce(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	payment := env.cardPaymentReady(t, nil)

	_, err := env.payments.Claim(ctx, payment.PromoLink.Code, usdtRecipient(), "203.0.113.9")
	require.NoError(t, err)

	_, err = env.payments.Claim(ctx, payment.PromoLink.Code, usdtRecipient(), "203.0.113.9")
	require.ErrorIs(t, err, domain.ErrAlreadyUsed)

	info, err := env.payments.GetClaimInfo(ctx, payment.PromoLink.Code)
	require.NoError(t, err)
	require.False(t, info.Valid)
	require.NotEmpty(t, info.Reason)
}

func TestClaimPayoutFailureRollsBackAndRetries(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	payment := env.cardPaymentReady(t, nil)

	env.cryptoRail.FailNext = true
	_, err := env.payments.Claim(ctx, payment.PromoLink.Code, usdtRecipient(), "203.0.113.9")
	require.ErrorIs(t, err, domain.ErrExternalService)

	// The code is claimable again.
	got, err := env.payments.GetPayment(ctx, payment.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusReadyForClaim, got.Transaction.Status)
	require.False(t, got.PromoLink.IsUsed)

	info, err := env.payments.GetClaimInfo(ctx, payment.PromoLink.Code)
	require.NoError(t, err)
	require.True(t, info.Valid)

	// The second claim reuses the rolled-back payout row.
	payout, err := env.payments.Claim(ctx, payment.PromoLink.Code, usdtRecipient(), "203.0.113.9")
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusCompleted, payout.Status)

	got, err = env.payments.GetPayment(ctx, payment.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusCompleted, got.Transaction.Status)
}

func TestClaimRejectsInvalidRecipientBeforeFlip(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	payment := env.cardPaymentReady(t, nil)

	_, err := env.payments.Claim(ctx, payment.PromoLink.Code, models.Recipient{}, "203.0.113.9")
	require.ErrorIs(t, err, domain.ErrValidation)

	// The failed pre-check did not burn the code.
	got, err := env.payments.GetPayment(ctx, payment.Transaction.ID)
	require.NoError(t, err)
	require.False(t, got.PromoLink.IsUsed)
	require.Equal(t, domain.TxStatusReadyForClaim, got.Transaction.Status)
}

func TestBankClaimSettlesThroughCompletePayout(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	payment := env.cardPaymentReady(t, nil)

	payout, err := env.payments.Claim(ctx, payment.PromoLink.Code,
		models.Recipient{BankDetails: map[string]any{"iban": "DE89370400440532013000"}}, "203.0.113.9")
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusProcessing, payout.Status)

	got, err := env.payments.GetPayment(ctx, payment.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusClaimProcessing, got.Transaction.Status)

	completed, err := env.payments.CompletePayout(ctx, payout.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusCompleted, completed.Status)

	got, err = env.payments.GetPayment(ctx, payment.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusCompleted, got.Transaction.Status)
}

func TestFailPayoutReturnsCodeToClaimable(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	payment := env.cardPaymentReady(t, nil)

	payout, err := env.payments.Claim(ctx, payment.PromoLink.Code,
		models.Recipient{Email: "claimant@example.com"}, "203.0.113.9")
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusProcessing, payout.Status)

	failed, err := env.payments.FailPayout(ctx, payout.ID, "account could not be verified")
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusFailed, failed.Status)

	got, err := env.payments.GetPayment(ctx, payment.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusReadyForClaim, got.Transaction.Status)
	require.False(t, got.PromoLink.IsUsed)
}

func TestCancelPaymentOnlyWhilePending(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	payment, err := env.payments.CreatePayment(ctx, CreatePaymentInput{
		Amount: decimal.NewFromInt(100), OriginalCurrency: "USD", ConvertedCurrency: "USDT",
		PaymentMethod: domain.PaymentMethodCard,
	})
	require.NoError(t, err)

	tx, err := env.payments.CancelPayment(ctx, payment.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusCancelled, tx.Status)

	ready := env.cardPaymentReady(t, nil)
	_, err = env.payments.CancelPayment(ctx, ready.Transaction.ID)
	require.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestRefundClaimReturnsFundsToPayer(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	payment := env.cardPaymentReady(t, nil)

	_, err := env.payments.Claim(ctx, payment.PromoLink.Code,
		models.Recipient{Email: "claimant@example.com"}, "203.0.113.9")
	require.NoError(t, err)

	tx, err := env.payments.RefundClaim(ctx, payment.Transaction.ID, "claimant unreachable")
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusRefunded, tx.Status)

	acct, err := env.escrow.Get(ctx, *tx.EscrowAccountID)
	require.NoError(t, err)
	require.Equal(t, "0", acct.ReservedBalance.String())
	require.Equal(t, "0", acct.TotalBalance.String())
}

func TestRefundClaimRefusedAfterPayoutCompleted(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	payment := env.cardPaymentReady(t, nil)

	payout, err := env.payments.Claim(ctx, payment.PromoLink.Code,
		models.Recipient{BankDetails: map[string]any{"iban": "DE89370400440532013000"}}, "203.0.113.9")
	require.NoError(t, err)

	_, err = env.payouts.Complete(ctx, payout.ID)
	require.NoError(t, err)

	_, err = env.payments.RefundClaim(ctx, payment.Transaction.ID, "too late")
	require.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestExpireStaleSweepsClaimablePayments(t *testing.T) {
	env := newTestEnv(t, 100*time.Millisecond)
	ctx := context.Background()
	provider := env.createProvider(t, "https://acme.example/hooks")
	payment := env.cardPaymentReady(t, &provider.ID)

	time.Sleep(150 * time.Millisecond)

	expired, err := env.payments.ExpireStale(ctx, 50)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	got, err := env.ledger.Get(ctx, payment.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusExpired, got.Status)

	// Reserved funds went back to the available pool.
	acct, err := env.escrow.Get(ctx, *payment.Transaction.EscrowAccountID)
	require.NoError(t, err)
	require.Equal(t, "0", acct.ReservedBalance.String())
	require.Equal(t, "95", acct.AvailableBalance.String())

	require.ElementsMatch(t,
		[]string{domain.WebhookEventPaymentCreated, domain.WebhookEventPaymentExpired},
		pendingWebhookEvents(t, env))

	history, err := env.ledger.History(ctx, payment.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, domain.LogActionAutoExpired, history[len(history)-1].Action)
}

func TestLazyExpiryOnRead(t *testing.T) {
	env := newTestEnv(t, time.Millisecond)
	ctx := context.Background()

	payment, err := env.payments.CreatePayment(ctx, CreatePaymentInput{
		Amount: decimal.NewFromInt(100), OriginalCurrency: "USD", ConvertedCurrency: "USDT",
		PaymentMethod: domain.PaymentMethodCard,
	})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	got, err := env.payments.GetPayment(ctx, payment.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusExpired, got.Transaction.Status)

	info, err := env.payments.GetClaimInfo(ctx, payment.PromoLink.Code)
	require.NoError(t, err)
	require.False(t, info.Valid)
}
