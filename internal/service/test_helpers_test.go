package service

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ucpg/payment-gateway/internal/domain"
	"github.com/ucpg/payment-gateway/internal/models"
	"github.com/ucpg/payment-gateway/internal/rail"
	"github.com/ucpg/payment-gateway/internal/repository/memory"
)

// fakeDoer records outbound webhook requests and answers with a fixed
// status so delivery paths can be exercised without a listener.
type fakeDoer struct {
	mu       sync.Mutex
	status   int
	requests []*http.Request
	bodies   [][]byte
}

func newFakeDoer(status int) *fakeDoer {
	return &fakeDoer{status: status}
}

func (d *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}
	d.requests = append(d.requests, req)
	d.bodies = append(d.bodies, body)
	return &http.Response{
		StatusCode: d.status,
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}, nil
}

func (d *fakeDoer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

type testEnv struct {
	store      *memory.Store
	cardRail   *rail.MockCardRail
	cryptoRail *rail.MockCryptoRail
	rates      *rail.StaticRateProvider
	sink       *fakeDoer

	exchange   *ExchangeService
	commission *CommissionService
	escrow     *EscrowService
	ledger     *LedgerService
	promo      *PromoService
	payouts    *PayoutService
	webhooks   *WebhookService
	payments   *PaymentService
}

// newTestEnv wires the full service graph over the in-memory store and
// mock rails. The claim window defaults to 24h; pass a positive window to
// exercise expiry paths.
func newTestEnv(t *testing.T, claimWindow time.Duration) *testEnv {
	t.Helper()

	env := &testEnv{
		store:      memory.New(),
		cardRail:   rail.NewMockCardRail(),
		cryptoRail: rail.NewMockCryptoRail(),
		rates:      rail.NewStaticRateProvider(),
		sink:       newFakeDoer(http.StatusOK),
	}
	env.exchange = NewExchangeService(env.store, nil, []rail.RateProvider{env.rates}, time.Hour, time.Hour)
	env.commission = NewCommissionService(env.store,
		decimal.RequireFromString("0.05"), decimal.RequireFromString("0.25"))
	env.escrow = NewEscrowService(env.store)
	env.ledger = NewLedgerService(env.store)
	env.promo = NewPromoService(env.store, "https://pay.test", 10)
	env.payouts = NewPayoutService(env.store, env.escrow, env.cardRail, env.cryptoRail)
	env.webhooks = NewWebhookService(env.store, env.sink)
	env.payments = NewPaymentService(env.store, env.exchange, env.commission, env.escrow,
		env.ledger, env.promo, env.payouts, env.webhooks, env.cardRail, env.cryptoRail, claimWindow)
	return env
}

func (env *testEnv) createProvider(t *testing.T, webhookURL string) models.Provider {
	t.Helper()
	p := models.Provider{
		ID:         uuid.New(),
		Name:       "acme",
		APIKey:     "key-" + uuid.NewString(),
		APISecret:  "secret-" + uuid.NewString(),
		WebhookURL: webhookURL,
		IsActive:   true,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, env.store.Providers().Create(context.Background(), p))
	return p
}

// cardPaymentReady drives a 100 USD -> USDT card payment through intent,
// confirmation and escrow into ready_for_claim. With the default 5% rate
// the claimable net is 95 USDT.
func (env *testEnv) cardPaymentReady(t *testing.T, providerID *uuid.UUID) Payment {
	t.Helper()
	ctx := context.Background()

	payment, err := env.payments.CreatePayment(ctx, CreatePaymentInput{
		Amount:            decimal.NewFromInt(100),
		OriginalCurrency:  "USD",
		ConvertedCurrency: "USDT",
		PaymentMethod:     domain.PaymentMethodCard,
		ProviderID:        providerID,
	})
	require.NoError(t, err)

	_, err = env.payments.CreateCardIntent(ctx, payment.Transaction.ID)
	require.NoError(t, err)

	tx, err := env.payments.ConfirmCardPayment(ctx, payment.Transaction.ID, "pm_test")
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusReadyForClaim, tx.Status)

	payment.Transaction = tx
	return payment
}

// usdtRecipient is a structurally valid USDT payout destination.
func usdtRecipient() models.Recipient {
	return models.Recipient{CryptoAddress: "0x52908400098527886e0f7030069857d2e4169ee7"}
}
