package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ucpg/payment-gateway/internal/domain"
	"github.com/ucpg/payment-gateway/internal/models"
	"github.com/ucpg/payment-gateway/internal/observability"
	"github.com/ucpg/payment-gateway/internal/rail"
	"github.com/ucpg/payment-gateway/internal/repository"
)

// PaymentService is the top-level orchestrator. It composes the currency
// catalog, rate resolution, commission split, the transaction ledger,
// escrow, promo claims and payout dispatch into the public payment
// operations.
type PaymentService struct {
	store      repository.Store
	exchange   *ExchangeService
	commission *CommissionService
	escrow     *EscrowService
	ledger     *LedgerService
	promo      *PromoService
	payouts    *PayoutService
	webhooks   *WebhookService
	cardRail   rail.CardRail
	cryptoRail rail.CryptoRail

	claimWindow time.Duration
}

func NewPaymentService(
	store repository.Store,
	exchange *ExchangeService,
	commission *CommissionService,
	escrow *EscrowService,
	ledger *LedgerService,
	promo *PromoService,
	payouts *PayoutService,
	webhooks *WebhookService,
	cardRail rail.CardRail,
	cryptoRail rail.CryptoRail,
	claimWindow time.Duration,
) *PaymentService {
	if claimWindow <= 0 {
		claimWindow = 24 * time.Hour
	}
	return &PaymentService{
		store:       store,
		exchange:    exchange,
		commission:  commission,
		escrow:      escrow,
		ledger:      ledger,
		promo:       promo,
		payouts:     payouts,
		webhooks:    webhooks,
		cardRail:    cardRail,
		cryptoRail:  cryptoRail,
		claimWindow: claimWindow,
	}
}

// CreatePaymentInput carries the payer-side parameters for a new payment.
type CreatePaymentInput struct {
	Amount            decimal.Decimal
	OriginalCurrency  string
	ConvertedCurrency string
	PaymentMethod     string
	ProviderID        *uuid.UUID
	ContactEmail      string
	ContactTelegram   string
}

// Payment bundles a transaction with its claim link for API responses.
type Payment struct {
	Transaction models.Transaction
	PromoLink   models.PromoLink
}

// CreatePayment validates the request, converts and splits the amount,
// and atomically creates the pending transaction with its claim link.
func (s *PaymentService) CreatePayment(ctx context.Context, in CreatePaymentInput) (Payment, error) {
	if !in.Amount.IsPositive() {
		return Payment{}, domain.ValidationError("amount must be positive, got %s", in.Amount)
	}
	switch in.PaymentMethod {
	case domain.PaymentMethodCard, domain.PaymentMethodCryptoDeposit, domain.PaymentMethodBankTransfer:
	default:
		return Payment{}, domain.ValidationError("unsupported payment method %q", in.PaymentMethod)
	}

	from, err := s.activeCurrency(ctx, in.OriginalCurrency)
	if err != nil {
		return Payment{}, err
	}
	to, err := s.activeCurrency(ctx, in.ConvertedCurrency)
	if err != nil {
		return Payment{}, err
	}
	if in.PaymentMethod == domain.PaymentMethodCryptoDeposit && !from.IsCrypto {
		return Payment{}, domain.ValidationError("crypto deposits require a crypto currency, got %s", from.Code)
	}

	var provider *models.Provider
	if in.ProviderID != nil {
		p, err := s.store.Providers().Get(ctx, *in.ProviderID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return Payment{}, domain.NotFoundError("provider", in.ProviderID.String())
			}
			return Payment{}, err
		}
		if !p.IsActive {
			return Payment{}, domain.ValidationError("provider %s is inactive", p.ID)
		}
		provider = &p
	}

	amount := domain.Round(in.Amount, from.DecimalPlaces)
	converted, rate, err := s.exchange.Convert(ctx, amount, from, to)
	if err != nil {
		return Payment{}, err
	}

	commissionRate, err := s.commission.Resolve(ctx, to.Code, in.ProviderID)
	if err != nil {
		return Payment{}, err
	}
	commissionAmount, netAmount := s.commission.Calculate(converted, commissionRate, to)

	now := time.Now().UTC()
	tx := models.Transaction{
		ID:                uuid.New(),
		OriginalAmount:    amount,
		OriginalCurrency:  from.Code,
		ConvertedAmount:   converted,
		ConvertedCurrency: to.Code,
		CommissionRate:    commissionRate,
		CommissionAmount:  commissionAmount,
		NetAmount:         netAmount,
		Status:            domain.TxStatusPending,
		PaymentMethod:     in.PaymentMethod,
		ProviderID:        in.ProviderID,
		ContactEmail:      in.ContactEmail,
		ContactTelegram:   in.ContactTelegram,
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpiresAt:         now.Add(s.claimWindow),
	}
	if err := s.ledger.Create(ctx, tx); err != nil {
		return Payment{}, err
	}

	link, err := s.promo.Issue(ctx, tx)
	if err != nil {
		return Payment{}, err
	}

	if provider != nil {
		if err := s.webhooks.Enqueue(ctx, *provider, tx, domain.WebhookEventPaymentCreated); err != nil {
			zap.L().Error("enqueue payment_created webhook", zap.Error(err))
		}
	}
	observability.IncrementTransactionStatus(domain.TxStatusPending)

	zap.L().Info("payment created",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("pair", from.Code+"/"+to.Code),
		zap.String("rate", rate.String()),
		zap.String("net_amount", netAmount.String()))
	return Payment{Transaction: tx, PromoLink: link}, nil
}

// GetPayment returns the transaction and its link, applying lazy expiry:
// a pending or claimable payment past its deadline is expired on read.
func (s *PaymentService) GetPayment(ctx context.Context, id uuid.UUID) (Payment, error) {
	tx, err := s.ledger.Get(ctx, id)
	if err != nil {
		return Payment{}, err
	}
	tx, err = s.applyLazyExpiry(ctx, tx)
	if err != nil {
		return Payment{}, err
	}
	link, err := s.promo.GetByTransaction(ctx, id)
	if err != nil {
		return Payment{}, err
	}
	return Payment{Transaction: tx, PromoLink: link}, nil
}

// History exposes the transaction's audit trail.
func (s *PaymentService) History(ctx context.Context, id uuid.UUID) ([]models.TransactionLog, error) {
	if _, err := s.ledger.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, id)
}

// CardIntent is returned to the payer's client to complete a card payment.
type CardIntent struct {
	IntentID     string
	ClientSecret string
}

// CreateCardIntent opens the card authorization for a pending payment and
// moves it to payment_processing.
func (s *PaymentService) CreateCardIntent(ctx context.Context, id uuid.UUID) (CardIntent, error) {
	tx, err := s.ledger.Get(ctx, id)
	if err != nil {
		return CardIntent{}, err
	}
	tx, err = s.applyLazyExpiry(ctx, tx)
	if err != nil {
		return CardIntent{}, err
	}
	if tx.PaymentMethod != domain.PaymentMethodCard {
		return CardIntent{}, domain.ValidationError("transaction uses payment method %s, not card", tx.PaymentMethod)
	}
	if tx.Status != domain.TxStatusPending {
		return CardIntent{}, domain.StateConflictError(tx.Status, domain.TxStatusPaymentProcessing)
	}

	intent, err := s.cardRail.CreateIntent(ctx, tx.OriginalAmount, tx.OriginalCurrency, tx.ID.String())
	if err != nil {
		return CardIntent{}, domain.ExternalServiceError("card_rail", err)
	}

	if err := s.ledger.Transition(ctx, id, domain.TxStatusPaymentProcessing, "", map[string]any{"intent_id": intent.IntentID}); err != nil {
		return CardIntent{}, err
	}
	if err := s.store.Transactions().SetCardIntent(ctx, id, intent.IntentID); err != nil {
		return CardIntent{}, fmt.Errorf("store card intent: %w", err)
	}
	if err := s.store.Transactions().SetPaymentReference(ctx, id, domain.PaymentMethodCard, intent.IntentID); err != nil {
		return CardIntent{}, fmt.Errorf("store payment reference: %w", err)
	}
	return CardIntent{IntentID: intent.IntentID, ClientSecret: intent.ClientSecret}, nil
}

// ConfirmCardPayment confirms and captures the card authorization, then
// moves the captured funds into escrow and opens the claim window.
func (s *PaymentService) ConfirmCardPayment(ctx context.Context, id uuid.UUID, paymentMethodID string) (models.Transaction, error) {
	tx, err := s.ledger.Get(ctx, id)
	if err != nil {
		return models.Transaction{}, err
	}
	if tx.Status != domain.TxStatusPaymentProcessing {
		return models.Transaction{}, domain.StateConflictError(tx.Status, domain.TxStatusPaymentConfirmed)
	}
	if tx.CardIntentID == "" {
		return models.Transaction{}, domain.ValidationError("no card intent open for this transaction")
	}

	if _, err := s.cardRail.ConfirmIntent(ctx, tx.CardIntentID, paymentMethodID); err != nil {
		return models.Transaction{}, s.failPayment(ctx, tx, fmt.Errorf("confirm intent: %w", err))
	}
	if err := s.cardRail.Capture(ctx, tx.CardIntentID); err != nil {
		return models.Transaction{}, s.failPayment(ctx, tx, fmt.Errorf("capture intent: %w", err))
	}

	if err := s.ledger.Transition(ctx, id, domain.TxStatusPaymentConfirmed, "", map[string]any{"intent_id": tx.CardIntentID}); err != nil {
		return models.Transaction{}, err
	}
	return s.moveToEscrow(ctx, tx)
}

// CryptoDeposit is what the payer needs to fund a crypto payment.
type CryptoDeposit struct {
	Address    string
	Currency   string
	Amount     decimal.Decimal
	PaymentURI string
}

// GenerateDepositAddress derives a unique deposit address for a pending
// crypto payment and moves it to payment_processing.
func (s *PaymentService) GenerateDepositAddress(ctx context.Context, id uuid.UUID) (CryptoDeposit, error) {
	tx, err := s.ledger.Get(ctx, id)
	if err != nil {
		return CryptoDeposit{}, err
	}
	tx, err = s.applyLazyExpiry(ctx, tx)
	if err != nil {
		return CryptoDeposit{}, err
	}
	if tx.PaymentMethod != domain.PaymentMethodCryptoDeposit {
		return CryptoDeposit{}, domain.ValidationError("transaction uses payment method %s, not crypto_deposit", tx.PaymentMethod)
	}
	if tx.Status != domain.TxStatusPending {
		// Idempotent for an already-open deposit.
		if tx.Status == domain.TxStatusPaymentProcessing && tx.CryptoDepositAddress != "" {
			return s.depositDetails(tx), nil
		}
		return CryptoDeposit{}, domain.StateConflictError(tx.Status, domain.TxStatusPaymentProcessing)
	}

	addr, err := s.cryptoRail.GenerateDepositAddress(ctx, tx.OriginalCurrency, tx.ID.String())
	if err != nil {
		return CryptoDeposit{}, domain.ExternalServiceError("crypto_rail", err)
	}

	if err := s.ledger.Transition(ctx, id, domain.TxStatusPaymentProcessing, "", map[string]any{"deposit_address": addr.Address}); err != nil {
		return CryptoDeposit{}, err
	}
	if err := s.store.Transactions().SetCryptoDeposit(ctx, id, addr.Address, ""); err != nil {
		return CryptoDeposit{}, fmt.Errorf("store deposit address: %w", err)
	}
	if err := s.store.Transactions().SetPaymentReference(ctx, id, domain.PaymentMethodCryptoDeposit, addr.Address); err != nil {
		return CryptoDeposit{}, fmt.Errorf("store payment reference: %w", err)
	}
	tx.CryptoDepositAddress = addr.Address
	return s.depositDetails(tx), nil
}

func (s *PaymentService) depositDetails(tx models.Transaction) CryptoDeposit {
	return CryptoDeposit{
		Address:    tx.CryptoDepositAddress,
		Currency:   tx.OriginalCurrency,
		Amount:     tx.OriginalAmount,
		PaymentURI: rail.PaymentURI(tx.CryptoDepositAddress, tx.OriginalAmount, tx.OriginalCurrency),
	}
}

// CheckCryptoDeposit polls the chain for the expected deposit. When the
// deposit confirms, the payment is escrowed and becomes claimable.
func (s *PaymentService) CheckCryptoDeposit(ctx context.Context, id uuid.UUID) (models.Transaction, bool, error) {
	tx, err := s.ledger.Get(ctx, id)
	if err != nil {
		return models.Transaction{}, false, err
	}
	if tx.Status != domain.TxStatusPaymentProcessing || tx.CryptoDepositAddress == "" {
		return models.Transaction{}, false, domain.StateConflictError(tx.Status, domain.TxStatusPaymentConfirmed)
	}

	status, err := s.cryptoRail.CheckDeposit(ctx, tx.CryptoDepositAddress, tx.OriginalCurrency, tx.OriginalAmount)
	if err != nil {
		return models.Transaction{}, false, domain.ExternalServiceError("crypto_rail", err)
	}
	if !status.Confirmed {
		return tx, false, nil
	}

	if err := s.store.Transactions().SetCryptoDeposit(ctx, id, "", status.TxHash); err != nil {
		return models.Transaction{}, false, fmt.Errorf("store deposit tx hash: %w", err)
	}
	if err := s.ledger.Transition(ctx, id, domain.TxStatusPaymentConfirmed, "", map[string]any{
		"tx_hash":       status.TxHash,
		"confirmations": status.Confirmations,
	}); err != nil {
		return models.Transaction{}, false, err
	}
	tx, err = s.moveToEscrow(ctx, tx)
	if err != nil {
		return models.Transaction{}, false, err
	}
	return tx, true, nil
}

// moveToEscrow deposits and reserves the net amount, then opens the claim
// window: payment_confirmed -> escrowed -> ready_for_claim.
func (s *PaymentService) moveToEscrow(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	acct, err := s.escrow.AccountFor(ctx, tx.PaymentMethod, tx.ConvertedCurrency)
	if err != nil {
		return models.Transaction{}, err
	}
	if err := s.store.Transactions().SetEscrowAccount(ctx, tx.ID, acct.ID); err != nil {
		return models.Transaction{}, fmt.Errorf("link escrow account: %w", err)
	}
	if err := s.escrow.Deposit(ctx, acct.ID, tx.NetAmount); err != nil {
		return models.Transaction{}, err
	}
	if err := s.ledger.Transition(ctx, tx.ID, domain.TxStatusEscrowed, "", map[string]any{
		"escrow_account_id": acct.ID.String(),
		"net_amount":        tx.NetAmount.String(),
	}); err != nil {
		return models.Transaction{}, err
	}
	if err := s.escrow.Reserve(ctx, acct.ID, tx.NetAmount); err != nil {
		return models.Transaction{}, err
	}
	if err := s.ledger.Transition(ctx, tx.ID, domain.TxStatusReadyForClaim, "", nil); err != nil {
		return models.Transaction{}, err
	}
	observability.IncrementTransactionStatus(domain.TxStatusReadyForClaim)
	return s.ledger.Get(ctx, tx.ID)
}

// ClaimInfo is the public view shown on the claim page before claiming.
type ClaimInfo struct {
	Valid     bool
	Reason    string
	Amount    decimal.Decimal
	Currency  string
	ExpiresAt time.Time
	Remaining time.Duration
}

// GetClaimInfo reports whether a code is claimable and what it is worth.
func (s *PaymentService) GetClaimInfo(ctx context.Context, code string) (ClaimInfo, error) {
	link, err := s.promo.GetByCode(ctx, code)
	if err != nil {
		return ClaimInfo{}, err
	}
	tx, err := s.ledger.Get(ctx, link.TransactionID)
	if err != nil {
		return ClaimInfo{}, err
	}
	tx, err = s.applyLazyExpiry(ctx, tx)
	if err != nil {
		return ClaimInfo{}, err
	}

	now := time.Now().UTC()
	info := ClaimInfo{
		Amount:    tx.NetAmount,
		Currency:  tx.ConvertedCurrency,
		ExpiresAt: link.ExpiresAt,
		Remaining: tx.TimeRemaining(now),
	}
	if err := s.promo.Validate(link, tx.Status, now); err != nil {
		info.Reason = domain.MessageOf(err)
		return info, nil
	}
	info.Valid = true
	return info, nil
}

// Claim redeems a code: exactly-once flip of the link, transition to
// claim_processing, then payout dispatch. A synchronous payout failure
// rolls the claim back so the code becomes claimable again.
func (s *PaymentService) Claim(ctx context.Context, code string, recipient models.Recipient, origin string) (models.PayoutRequest, error) {
	link, err := s.promo.GetByCode(ctx, code)
	if err != nil {
		observability.IncrementClaim("not_found")
		return models.PayoutRequest{}, err
	}
	tx, err := s.ledger.Get(ctx, link.TransactionID)
	if err != nil {
		return models.PayoutRequest{}, err
	}
	tx, err = s.applyLazyExpiry(ctx, tx)
	if err != nil {
		return models.PayoutRequest{}, err
	}

	if err := s.promo.Validate(link, tx.Status, time.Now().UTC()); err != nil {
		observability.IncrementClaim("rejected")
		return models.PayoutRequest{}, err
	}

	currency, err := s.activeCurrency(ctx, tx.ConvertedCurrency)
	if err != nil {
		return models.PayoutRequest{}, err
	}
	if _, err := selectMethod(recipient, currency); err != nil {
		observability.IncrementClaim("rejected")
		return models.PayoutRequest{}, err
	}

	if err := s.promo.Claim(ctx, code, recipient, origin); err != nil {
		observability.IncrementClaim("lost_race")
		return models.PayoutRequest{}, err
	}

	if err := s.ledger.Transition(ctx, tx.ID, domain.TxStatusClaimProcessing, "", map[string]any{"origin": origin}); err != nil {
		// The flip won but the transaction moved concurrently; give the
		// code back before surfacing the conflict.
		s.rollbackClaim(ctx, code, tx.ID, "state conflict after claim")
		return models.PayoutRequest{}, err
	}

	payout, err := s.payouts.Dispatch(ctx, link, tx, recipient, currency)
	if err != nil {
		s.rollbackClaim(ctx, code, tx.ID, "payout dispatch failed")
		observability.IncrementClaim("payout_failed")
		return payout, err
	}

	switch payout.Status {
	case domain.PayoutStatusCompleted:
		if err := s.finalize(ctx, tx.ID); err != nil {
			return payout, err
		}
	case domain.PayoutStatusProcessing:
		// Rail accepted but not settled; the transaction stays in
		// claim_processing until the rail confirms.
	}
	observability.IncrementClaim("claimed")
	return payout, nil
}

// rollbackClaim is the compensating path: the code flip is undone only
// when no payout reached terminal success.
func (s *PaymentService) rollbackClaim(ctx context.Context, code string, txID uuid.UUID, reason string) {
	link, err := s.promo.GetByCode(ctx, code)
	if err == nil {
		if payout, perr := s.store.Payouts().GetByPromoLink(ctx, link.ID); perr == nil && payout.Status == domain.PayoutStatusCompleted {
			zap.L().Error("refusing claim rollback: payout already completed",
				zap.String("code", code),
				zap.String("payout_id", payout.ID.String()))
			return
		}
	}
	if err := s.ledger.Transition(ctx, txID, domain.TxStatusReadyForClaim, "", map[string]any{"rollback_reason": reason}); err != nil {
		zap.L().Error("claim rollback transition failed", zap.String("code", code), zap.Error(err))
	}
	if err := s.promo.Unclaim(ctx, code); err != nil {
		zap.L().Error("claim rollback unclaim failed", zap.String("code", code), zap.Error(err))
	}
}

// finalize completes the transaction and notifies the provider.
func (s *PaymentService) finalize(ctx context.Context, txID uuid.UUID) error {
	if err := s.ledger.Transition(ctx, txID, domain.TxStatusCompleted, "", nil); err != nil {
		return err
	}
	observability.IncrementTransactionStatus(domain.TxStatusCompleted)
	tx, err := s.ledger.Get(ctx, txID)
	if err != nil {
		return err
	}
	s.notifyProvider(ctx, tx, domain.WebhookEventPaymentCompleted)
	return nil
}

// CompletePayout settles an out-of-band payout (bank, email) and finishes
// the owning transaction.
func (s *PaymentService) CompletePayout(ctx context.Context, payoutID uuid.UUID) (models.PayoutRequest, error) {
	payout, err := s.payouts.Complete(ctx, payoutID)
	if err != nil {
		return models.PayoutRequest{}, err
	}
	link, err := s.store.PromoLinks().Get(ctx, payout.PromoLinkID)
	if err != nil {
		return payout, err
	}
	if err := s.finalize(ctx, link.TransactionID); err != nil {
		return payout, err
	}
	return payout, nil
}

// FailPayout records an asynchronous rail failure. The claim is rolled
// back so the recipient can retry with a different destination.
func (s *PaymentService) FailPayout(ctx context.Context, payoutID uuid.UUID, reason string) (models.PayoutRequest, error) {
	payout, err := s.payouts.Fail(ctx, payoutID, reason)
	if err != nil {
		return models.PayoutRequest{}, err
	}
	link, err := s.store.PromoLinks().Get(ctx, payout.PromoLinkID)
	if err != nil {
		return payout, err
	}
	s.rollbackClaim(ctx, link.Code, link.TransactionID, reason)
	return payout, nil
}

// CancelPayment cancels a payment that has not started processing.
func (s *PaymentService) CancelPayment(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	tx, err := s.ledger.Get(ctx, id)
	if err != nil {
		return models.Transaction{}, err
	}
	if tx.Status != domain.TxStatusPending {
		return models.Transaction{}, domain.StateConflictError(tx.Status, domain.TxStatusCancelled)
	}
	if err := s.ledger.Transition(ctx, id, domain.TxStatusCancelled, "", nil); err != nil {
		return models.Transaction{}, err
	}
	observability.IncrementTransactionStatus(domain.TxStatusCancelled)
	return s.ledger.Get(ctx, id)
}

// RefundClaim refunds a claim-processing payment back to the payer after
// an unrecoverable payout problem. Reserved funds leave escrow and a card
// payment is refunded on the rail.
func (s *PaymentService) RefundClaim(ctx context.Context, id uuid.UUID, reason string) (models.Transaction, error) {
	tx, err := s.ledger.Get(ctx, id)
	if err != nil {
		return models.Transaction{}, err
	}
	if tx.Status != domain.TxStatusClaimProcessing {
		return models.Transaction{}, domain.StateConflictError(tx.Status, domain.TxStatusRefunded)
	}
	link, err := s.promo.GetByTransaction(ctx, id)
	if err != nil {
		return models.Transaction{}, err
	}
	if payout, perr := s.store.Payouts().GetByPromoLink(ctx, link.ID); perr == nil && payout.Status == domain.PayoutStatusCompleted {
		return models.Transaction{}, domain.StateConflictError(domain.PayoutStatusCompleted, domain.TxStatusRefunded)
	}

	if tx.EscrowAccountID != nil {
		if err := s.escrow.Release(ctx, *tx.EscrowAccountID, tx.NetAmount); err != nil {
			return models.Transaction{}, err
		}
	}
	if tx.CardIntentID != "" {
		if _, err := s.cardRail.Refund(ctx, tx.CardIntentID, reason); err != nil {
			return models.Transaction{}, domain.ExternalServiceError("card_rail", err)
		}
	}
	if err := s.ledger.Transition(ctx, id, domain.TxStatusRefunded, "", map[string]any{"reason": reason}); err != nil {
		return models.Transaction{}, err
	}
	observability.IncrementTransactionStatus(domain.TxStatusRefunded)
	return s.ledger.Get(ctx, id)
}

// ExpireStale sweeps payments past their deadline into expired. Reserved
// funds of claimable payments return to the available pool first.
func (s *PaymentService) ExpireStale(ctx context.Context, limit int) (int, error) {
	stale, err := s.store.Transactions().ListExpiredBefore(ctx,
		[]string{domain.TxStatusPending, domain.TxStatusReadyForClaim}, time.Now().UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("list stale transactions: %w", err)
	}

	expired := 0
	for _, tx := range stale {
		if err := s.expireOne(ctx, tx); err != nil {
			zap.L().Error("expire transaction failed",
				zap.String("transaction_id", tx.ID.String()),
				zap.Error(err))
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *PaymentService) expireOne(ctx context.Context, tx models.Transaction) error {
	if tx.Status == domain.TxStatusReadyForClaim && tx.EscrowAccountID != nil {
		if err := s.escrow.Return(ctx, *tx.EscrowAccountID, tx.NetAmount); err != nil {
			return err
		}
	}
	if err := s.ledger.Transition(ctx, tx.ID, domain.TxStatusExpired, domain.LogActionAutoExpired, nil); err != nil {
		return err
	}
	observability.IncrementTransactionStatus(domain.TxStatusExpired)
	s.notifyProvider(ctx, tx, domain.WebhookEventPaymentExpired)
	return nil
}

// applyLazyExpiry enforces the deadline on read paths before any sweep
// job persists it.
func (s *PaymentService) applyLazyExpiry(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	if !tx.IsExpired(time.Now().UTC()) {
		return tx, nil
	}
	if tx.Status != domain.TxStatusPending && tx.Status != domain.TxStatusReadyForClaim {
		return tx, nil
	}
	if err := s.expireOne(ctx, tx); err != nil {
		return models.Transaction{}, err
	}
	return s.ledger.Get(ctx, tx.ID)
}

func (s *PaymentService) failPayment(ctx context.Context, tx models.Transaction, cause error) error {
	if err := s.ledger.Transition(ctx, tx.ID, domain.TxStatusFailed, "", map[string]any{"reason": cause.Error()}); err != nil {
		return errors.Join(cause, err)
	}
	observability.IncrementTransactionStatus(domain.TxStatusFailed)
	s.notifyProvider(ctx, tx, domain.WebhookEventPaymentFailed)
	return domain.ExternalServiceError("card_rail", cause)
}

func (s *PaymentService) notifyProvider(ctx context.Context, tx models.Transaction, event string) {
	if tx.ProviderID == nil {
		return
	}
	provider, err := s.store.Providers().Get(ctx, *tx.ProviderID)
	if err != nil {
		zap.L().Error("load provider for webhook", zap.Error(err))
		return
	}
	if err := s.webhooks.Enqueue(ctx, provider, tx, event); err != nil {
		zap.L().Error("enqueue webhook", zap.String("event", event), zap.Error(err))
	}
}

func (s *PaymentService) activeCurrency(ctx context.Context, code string) (domain.Currency, error) {
	code = domain.NormalizeCode(code)
	c, err := s.store.Currencies().Get(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Currency{}, domain.ValidationError("unsupported currency %s", code)
		}
		return domain.Currency{}, err
	}
	if !c.IsActive {
		return domain.Currency{}, domain.ValidationError("currency %s is not active", code)
	}
	return c, nil
}
