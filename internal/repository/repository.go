// Package repository defines the persistence contracts for the payment core.
// Implementations return immutable snapshots; all state changes go through
// the named operations here, never ad-hoc field writes.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ucpg/payment-gateway/internal/domain"
	"github.com/ucpg/payment-gateway/internal/models"
)

// ErrNotFound is returned by lookups that match no row. Services translate
// it into the domain taxonomy.
var ErrNotFound = errors.New("repository: not found")

// ErrDuplicate is returned when a uniqueness constraint is violated.
var ErrDuplicate = errors.New("repository: duplicate key")

type Currencies interface {
	Get(ctx context.Context, code string) (domain.Currency, error)
	List(ctx context.Context) ([]domain.Currency, error)
	Upsert(ctx context.Context, c domain.Currency) error
}

type Rates interface {
	// Insert appends one observation to the rate series.
	Insert(ctx context.Context, rate models.ExchangeRate) error
	// Latest returns the most recent rate for the pair observed at or after
	// notBefore.
	Latest(ctx context.Context, from, to string, notBefore time.Time) (models.ExchangeRate, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Commissions interface {
	// Lookup returns the active setting whose scope keys match exactly:
	// nil means "must be unset", not "any".
	Lookup(ctx context.Context, currencyCode *string, providerID *uuid.UUID) (models.CommissionSetting, error)
	Save(ctx context.Context, setting *models.CommissionSetting) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]models.CommissionSetting, error)
}

type Providers interface {
	Get(ctx context.Context, id uuid.UUID) (models.Provider, error)
	GetByAPIKey(ctx context.Context, apiKey string) (models.Provider, error)
	Create(ctx context.Context, p models.Provider) error
}

type Transactions interface {
	Create(ctx context.Context, tx models.Transaction) error
	Get(ctx context.Context, id uuid.UUID) (models.Transaction, error)
	// UpdateStatusGuarded flips status only while the stored status still
	// equals expect, returning the number of rows changed. Zero rows means
	// a concurrent writer won the race.
	UpdateStatusGuarded(ctx context.Context, id uuid.UUID, expect, next string, completedAt *time.Time) (int64, error)
	SetPaymentReference(ctx context.Context, id uuid.UUID, method, reference string) error
	SetCardIntent(ctx context.Context, id uuid.UUID, intentID string) error
	SetCryptoDeposit(ctx context.Context, id uuid.UUID, address, txHash string) error
	SetEscrowAccount(ctx context.Context, id uuid.UUID, escrowID uuid.UUID) error
	// ListExpiredBefore returns transactions in one of the given statuses
	// whose expiry has passed.
	ListExpiredBefore(ctx context.Context, statuses []string, asOf time.Time, limit int) ([]models.Transaction, error)
}

type TransactionLogs interface {
	Append(ctx context.Context, entry models.TransactionLog) error
	ListByTransaction(ctx context.Context, txID uuid.UUID) ([]models.TransactionLog, error)
}

// EscrowAccounts exposes the four balance movements as single guarded
// operations so each mutation is atomic per account. A zero row count from
// the guarded movements means the balance precondition did not hold.
type EscrowAccounts interface {
	GetOrCreate(ctx context.Context, railType, currency string) (models.EscrowAccount, error)
	Get(ctx context.Context, id uuid.UUID) (models.EscrowAccount, error)
	Deposit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
	Reserve(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error)
	Release(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error)
	Return(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error)
}

type PromoLinks interface {
	Create(ctx context.Context, link models.PromoLink) error
	Get(ctx context.Context, id uuid.UUID) (models.PromoLink, error)
	GetByCode(ctx context.Context, code string) (models.PromoLink, error)
	GetByTransaction(ctx context.Context, txID uuid.UUID) (models.PromoLink, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	// Claim flips is_used false→true in a single compare-and-set. Zero rows
	// means the code was already used (or does not exist).
	Claim(ctx context.Context, code string, recipient models.Recipient, origin string, usedAt time.Time) (int64, error)
	// Unclaim reverts a claim flip. Zero rows means the code was not used.
	Unclaim(ctx context.Context, code string) (int64, error)
}

// PayoutResult carries the mutable fields written alongside a payout
// status change.
type PayoutResult struct {
	ExternalID    string
	Fee           decimal.Decimal
	FailureReason string
	ProcessedAt   *time.Time
	CompletedAt   *time.Time
}

type Payouts interface {
	Create(ctx context.Context, req models.PayoutRequest) error
	Get(ctx context.Context, id uuid.UUID) (models.PayoutRequest, error)
	GetByPromoLink(ctx context.Context, promoLinkID uuid.UUID) (models.PayoutRequest, error)
	UpdateStatusGuarded(ctx context.Context, id uuid.UUID, expect, next string, result PayoutResult) (int64, error)
	// Retry reopens a failed payout with a fresh destination, flipping it
	// back to pending and clearing the failure fields. Zero rows means the
	// payout was not in failed.
	Retry(ctx context.Context, id uuid.UUID, method string, recipient models.Recipient) (int64, error)
}

type Webhooks interface {
	Enqueue(ctx context.Context, wh models.ProviderWebhook) error
	// Due returns undelivered items whose next retry is at or before now
	// and that still have attempts left.
	Due(ctx context.Context, now time.Time, maxAttempts, limit int) ([]models.ProviderWebhook, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, responseCode int, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, responseCode *int, attemptAt time.Time, nextRetry *time.Time) error
	// ListExhausted surfaces permanently undelivered items for operators.
	ListExhausted(ctx context.Context, maxAttempts, limit int) ([]models.ProviderWebhook, error)
	CountExhausted(ctx context.Context, maxAttempts int) (int64, error)
}

// Store bundles the repositories behind one handle.
type Store interface {
	Currencies() Currencies
	Rates() Rates
	Commissions() Commissions
	Providers() Providers
	Transactions() Transactions
	TransactionLogs() TransactionLogs
	Escrow() EscrowAccounts
	PromoLinks() PromoLinks
	Payouts() Payouts
	Webhooks() Webhooks
}
