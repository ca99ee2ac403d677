package domain

// Transaction lifecycle statuses.
const (
	TxStatusPending           = "pending"
	TxStatusPaymentProcessing = "payment_processing"
	TxStatusPaymentConfirmed  = "payment_confirmed"
	TxStatusEscrowed          = "escrowed"
	TxStatusReadyForClaim     = "ready_for_claim"
	TxStatusClaimProcessing   = "claim_processing"
	TxStatusCompleted         = "completed"
	TxStatusExpired           = "expired"
	TxStatusCancelled         = "cancelled"
	TxStatusFailed            = "failed"
	TxStatusRefunded          = "refunded"
)

// Payment methods accepted on the deposit side.
const (
	PaymentMethodCard          = "card"
	PaymentMethodCryptoDeposit = "crypto_deposit"
	PaymentMethodBankTransfer  = "bank_transfer"
)

// Payout methods on the claim side.
const (
	PayoutMethodCryptoWallet = "crypto_wallet"
	PayoutMethodCard         = "card"
	PayoutMethodBankTransfer = "bank_transfer"
	PayoutMethodEmail        = "email"
)

// Payout request statuses.
const (
	PayoutStatusPending    = "pending"
	PayoutStatusProcessing = "processing"
	PayoutStatusCompleted  = "completed"
	PayoutStatusFailed     = "failed"
	PayoutStatusCancelled  = "cancelled"
)

// Escrow account rail types. Accounts are keyed by (rail type, currency).
const (
	EscrowRailCard   = "card"
	EscrowRailCrypto = "crypto"
	EscrowRailBank   = "bank"
)

// Provider webhook events.
const (
	WebhookEventPaymentCreated   = "payment_created"
	WebhookEventPaymentCompleted = "payment_completed"
	WebhookEventPaymentFailed    = "payment_failed"
	WebhookEventPaymentExpired   = "payment_expired"
)

// Audit log actions recorded against transactions.
const (
	LogActionCreated       = "created"
	LogActionStatusChanged = "status_changed"
	LogActionAutoExpired   = "auto_expired"
)
