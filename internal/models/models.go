package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction is an immutable snapshot of a payment's state. All mutation
// goes through named ledger operations; nothing here saves itself.
type Transaction struct {
	ID uuid.UUID `json:"id"`

	OriginalAmount    decimal.Decimal `json:"original_amount"`
	OriginalCurrency  string          `json:"original_currency"`
	ConvertedAmount   decimal.Decimal `json:"converted_amount"`
	ConvertedCurrency string          `json:"converted_currency"`

	CommissionRate   decimal.Decimal `json:"commission_rate"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	NetAmount        decimal.Decimal `json:"net_amount"`

	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method,omitempty"`

	// External rail references.
	PaymentReference     string `json:"payment_reference,omitempty"`
	CardIntentID         string `json:"-"`
	CryptoDepositAddress string `json:"crypto_deposit_address,omitempty"`
	CryptoTxHash         string `json:"crypto_tx_hash,omitempty"`

	EscrowAccountID *uuid.UUID `json:"-"`

	ProviderID *uuid.UUID `json:"provider_id,omitempty"`

	ContactEmail    string `json:"-"`
	ContactTelegram string `json:"-"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsExpired reports lazy expiry against the wall clock. Read paths must
// treat an expired pending/ready_for_claim transaction as expired even
// before the sweep job persists the status.
func (t Transaction) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// TimeRemaining returns the remaining claim window, zero once expired.
func (t Transaction) TimeRemaining(now time.Time) time.Duration {
	if t.IsExpired(now) {
		return 0
	}
	return t.ExpiresAt.Sub(now)
}

// ExchangeRate is one observation in an append-only rate series.
type ExchangeRate struct {
	ID           int64           `json:"id"`
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	Rate         decimal.Decimal `json:"rate"`
	Source       string          `json:"source"`
	Timestamp    time.Time       `json:"timestamp"`
}

// CommissionSetting configures a commission rate at one waterfall scope.
// Both keys nil means the global scope.
type CommissionSetting struct {
	ID           int64           `json:"id"`
	CurrencyCode *string         `json:"currency,omitempty"`
	ProviderID   *uuid.UUID      `json:"provider_id,omitempty"`
	Rate         decimal.Decimal `json:"rate"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Provider is an integrated merchant/service that originates payments and
// receives signed webhooks.
type Provider struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	APIKey         string          `json:"-"`
	APISecret      string          `json:"-"`
	WebhookURL     string          `json:"webhook_url"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
}

// EscrowAccount holds converted funds between confirmation and payout,
// keyed by (rail type, currency).
type EscrowAccount struct {
	ID               uuid.UUID       `json:"id"`
	RailType         string          `json:"rail_type"`
	Currency         string          `json:"currency"`
	TotalBalance     decimal.Decimal `json:"total_balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	ReservedBalance  decimal.Decimal `json:"reserved_balance"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Recipient describes where a claimed payout should go. Exactly which
// fields are set determines the payout rail.
type Recipient struct {
	CryptoAddress string         `json:"wallet,omitempty"`
	CardToken     string         `json:"card_token,omitempty"`
	BankDetails   map[string]any `json:"bank_details,omitempty"`
	Email         string         `json:"email,omitempty"`
}

// PromoLink is the single-use claim token bound one-to-one to a transaction.
type PromoLink struct {
	ID            uuid.UUID `json:"id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Code          string    `json:"code"`
	LinkURL       string    `json:"link_url"`

	IsUsed bool       `json:"is_used"`
	UsedAt *time.Time `json:"used_at,omitempty"`
	Origin string     `json:"-"`

	Recipient Recipient `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (p PromoLink) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// PayoutRequest tracks one payout attempt for a claimed promo link.
type PayoutRequest struct {
	ID          uuid.UUID `json:"id"`
	PromoLinkID uuid.UUID `json:"promo_link_id"`

	Method   string          `json:"method"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`

	Recipient Recipient `json:"-"`

	Status          string          `json:"status"`
	ExternalID      string          `json:"external_id,omitempty"`
	Fee             decimal.Decimal `json:"fee"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	EscrowAccountID uuid.UUID       `json:"-"`
}

// TransactionLog is one append-only audit record. Never mutated or deleted.
type TransactionLog struct {
	ID            int64          `json:"id"`
	TransactionID uuid.UUID      `json:"transaction_id"`
	Action        string         `json:"action"`
	OldStatus     string         `json:"old_status,omitempty"`
	NewStatus     string         `json:"new_status,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// ProviderWebhook is one outbound notification owned by the delivery queue.
type ProviderWebhook struct {
	ID            uuid.UUID `json:"id"`
	ProviderID    uuid.UUID `json:"provider_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Event         string    `json:"event"`

	Payload []byte `json:"-"`

	Delivered        bool       `json:"delivered"`
	DeliveryAttempts int        `json:"delivery_attempts"`
	LastAttempt      *time.Time `json:"last_attempt,omitempty"`
	NextRetry        *time.Time `json:"next_retry,omitempty"`
	ResponseCode     *int       `json:"response_code,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}
