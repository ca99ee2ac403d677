// Package rail wraps the external money-moving systems: the card acquirer,
// crypto wallet infrastructure, and market-data feeds. Everything here is
// best-effort and retryable; durable state lives in the repositories.
package rail

import (
	"context"

	"github.com/shopspring/decimal"
)

// CardIntent is an authorization hold created on the card acquirer.
type CardIntent struct {
	IntentID     string
	ClientSecret string
	Status       string
}

// DepositAddress is a unique address generated for one crypto payment.
type DepositAddress struct {
	Address    string
	Currency   string
	PaymentURI string
}

// DepositStatus reports observed funds on a deposit address.
type DepositStatus struct {
	Confirmed     bool
	Confirmations int
	TxHash        string
	Amount        decimal.Decimal
}

// PayoutReceipt is the rail's answer to a payout submission. Accepted is
// true when the rail took ownership of the transfer; Settled additionally
// means funds already moved.
type PayoutReceipt struct {
	ExternalID string
	Fee        decimal.Decimal
	Settled    bool
}

// CardRail is the card acquirer integration used for card payments, card
// payouts and refunds.
type CardRail interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency, reference string) (CardIntent, error)
	ConfirmIntent(ctx context.Context, intentID, paymentMethodID string) (CardIntent, error)
	Capture(ctx context.Context, intentID string) error
	Refund(ctx context.Context, intentID, reason string) (string, error)
	PayoutToCard(ctx context.Context, cardToken string, amount decimal.Decimal, currency string) (PayoutReceipt, error)
	PayoutToBank(ctx context.Context, bankDetails map[string]any, amount decimal.Decimal, currency string) (PayoutReceipt, error)
}

// CryptoRail is the wallet-infrastructure integration used for crypto
// deposits and payouts.
type CryptoRail interface {
	GenerateDepositAddress(ctx context.Context, currency, reference string) (DepositAddress, error)
	CheckDeposit(ctx context.Context, address, currency string, expected decimal.Decimal) (DepositStatus, error)
	Payout(ctx context.Context, address string, amount decimal.Decimal, currency string) (PayoutReceipt, error)
}

// RateProvider fetches one market rate. Providers are chained: the first
// one that answers wins.
type RateProvider interface {
	Name() string
	FetchRate(ctx context.Context, from, to string) (decimal.Decimal, error)
}
