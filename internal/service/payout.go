package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ucpg/payment-gateway/internal/domain"
	"github.com/ucpg/payment-gateway/internal/models"
	"github.com/ucpg/payment-gateway/internal/observability"
	"github.com/ucpg/payment-gateway/internal/rail"
	"github.com/ucpg/payment-gateway/internal/repository"
)

// PayoutService routes a successful claim to the matching payout rail and
// tracks the payout sub-lifecycle. The PayoutRequest row is created before
// the rail call, so a crash mid-call leaves an auditable pending record.
type PayoutService struct {
	store      repository.Store
	escrow     *EscrowService
	cardRail   rail.CardRail
	cryptoRail rail.CryptoRail
}

func NewPayoutService(store repository.Store, escrow *EscrowService, cardRail rail.CardRail, cryptoRail rail.CryptoRail) *PayoutService {
	return &PayoutService{
		store:      store,
		escrow:     escrow,
		cardRail:   cardRail,
		cryptoRail: cryptoRail,
	}
}

// selectMethod picks the payout rail from the recipient descriptor.
func selectMethod(recipient models.Recipient, currency domain.Currency) (string, error) {
	switch {
	case recipient.CryptoAddress != "":
		if !currency.IsCrypto {
			return "", domain.ValidationError("crypto wallet payouts require a crypto settlement currency, got %s", currency.Code)
		}
		if !rail.ValidateAddress(recipient.CryptoAddress, currency.Code) {
			return "", domain.ValidationError("invalid %s address", currency.Code)
		}
		return domain.PayoutMethodCryptoWallet, nil
	case recipient.CardToken != "":
		return domain.PayoutMethodCard, nil
	case len(recipient.BankDetails) > 0:
		return domain.PayoutMethodBankTransfer, nil
	case recipient.Email != "":
		return domain.PayoutMethodEmail, nil
	default:
		return "", domain.ValidationError("recipient must include a wallet, card token, bank details or email")
	}
}

// Dispatch creates (or resumes) the payout for a claimed link and drives
// it against the external rail. Re-running dispatch for a pending request
// is safe; completed and processing requests are returned unchanged.
func (s *PayoutService) Dispatch(ctx context.Context, link models.PromoLink, tx models.Transaction, recipient models.Recipient, currency domain.Currency) (models.PayoutRequest, error) {
	existing, err := s.store.Payouts().GetByPromoLink(ctx, link.ID)
	switch {
	case err == nil:
		switch existing.Status {
		case domain.PayoutStatusPending:
			// Crash recovery: resume the pending request.
			return s.process(ctx, existing, recipient, currency)
		case domain.PayoutStatusFailed:
			// Re-claim after a rolled-back failure: reopen with the new
			// destination.
			method, err := selectMethod(recipient, currency)
			if err != nil {
				return models.PayoutRequest{}, err
			}
			rows, err := s.store.Payouts().Retry(ctx, existing.ID, method, recipient)
			if err != nil {
				return models.PayoutRequest{}, fmt.Errorf("retry payout: %w", err)
			}
			if rows == 0 {
				return s.store.Payouts().Get(ctx, existing.ID)
			}
			existing.Status = domain.PayoutStatusPending
			existing.Method = method
			existing.Recipient = recipient
			existing.FailureReason = ""
			existing.ExternalID = ""
			existing.ProcessedAt = nil
			return s.process(ctx, existing, recipient, currency)
		default:
			return existing, nil
		}
	case errors.Is(err, repository.ErrNotFound):
	default:
		return models.PayoutRequest{}, fmt.Errorf("lookup payout: %w", err)
	}

	method, err := selectMethod(recipient, currency)
	if err != nil {
		return models.PayoutRequest{}, err
	}
	if tx.EscrowAccountID == nil {
		return models.PayoutRequest{}, domain.StateConflictError(tx.Status, domain.TxStatusClaimProcessing)
	}

	req := models.PayoutRequest{
		ID:              uuid.New(),
		PromoLinkID:     link.ID,
		Method:          method,
		Amount:          tx.NetAmount,
		Currency:        tx.ConvertedCurrency,
		Recipient:       recipient,
		Status:          domain.PayoutStatusPending,
		CreatedAt:       time.Now().UTC(),
		EscrowAccountID: *tx.EscrowAccountID,
	}
	if err := s.store.Payouts().Create(ctx, req); err != nil {
		return models.PayoutRequest{}, fmt.Errorf("create payout request: %w", err)
	}

	return s.process(ctx, req, recipient, currency)
}

func (s *PayoutService) process(ctx context.Context, req models.PayoutRequest, recipient models.Recipient, currency domain.Currency) (models.PayoutRequest, error) {
	now := time.Now().UTC()
	rows, err := s.store.Payouts().UpdateStatusGuarded(ctx, req.ID, domain.PayoutStatusPending, domain.PayoutStatusProcessing,
		repository.PayoutResult{ProcessedAt: &now})
	if err != nil {
		return models.PayoutRequest{}, fmt.Errorf("mark payout processing: %w", err)
	}
	if err := requireExactlyOne(rows, "mark payout processing"); err != nil {
		// Another worker took it; report the current row.
		return s.store.Payouts().Get(ctx, req.ID)
	}
	req.Status = domain.PayoutStatusProcessing
	req.ProcessedAt = &now

	receipt, railErr := s.callRail(ctx, req, recipient, currency)
	if railErr != nil {
		return s.fail(ctx, req, railErr)
	}

	if !receipt.Settled {
		if _, err := s.store.Payouts().UpdateStatusGuarded(ctx, req.ID, domain.PayoutStatusProcessing, domain.PayoutStatusProcessing,
			repository.PayoutResult{ExternalID: receipt.ExternalID, Fee: receipt.Fee}); err != nil {
			return models.PayoutRequest{}, fmt.Errorf("record payout receipt: %w", err)
		}
		req.ExternalID = receipt.ExternalID
		req.Fee = receipt.Fee
		observability.IncrementPayout(req.Method, "processing")
		return req, nil
	}

	return s.settle(ctx, req, receipt)
}

// settle releases the reserved escrow funds and finalizes the request.
func (s *PayoutService) settle(ctx context.Context, req models.PayoutRequest, receipt rail.PayoutReceipt) (models.PayoutRequest, error) {
	if err := s.escrow.Release(ctx, req.EscrowAccountID, req.Amount); err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			observability.IncrementEscrowConflict("release")
		}
		return s.fail(ctx, req, fmt.Errorf("release escrow: %w", err))
	}

	completedAt := time.Now().UTC()
	rows, err := s.store.Payouts().UpdateStatusGuarded(ctx, req.ID, domain.PayoutStatusProcessing, domain.PayoutStatusCompleted,
		repository.PayoutResult{ExternalID: receipt.ExternalID, Fee: receipt.Fee, CompletedAt: &completedAt})
	if err != nil {
		return models.PayoutRequest{}, fmt.Errorf("mark payout completed: %w", err)
	}
	if err := requireExactlyOne(rows, "mark payout completed"); err != nil {
		return models.PayoutRequest{}, err
	}

	req.Status = domain.PayoutStatusCompleted
	req.ExternalID = receipt.ExternalID
	req.Fee = receipt.Fee
	req.CompletedAt = &completedAt
	observability.IncrementPayout(req.Method, "completed")
	zap.L().Info("payout completed",
		zap.String("payout_id", req.ID.String()),
		zap.String("method", req.Method),
		zap.String("external_id", receipt.ExternalID))
	return req, nil
}

func (s *PayoutService) fail(ctx context.Context, req models.PayoutRequest, cause error) (models.PayoutRequest, error) {
	if _, err := s.store.Payouts().UpdateStatusGuarded(ctx, req.ID, domain.PayoutStatusProcessing, domain.PayoutStatusFailed,
		repository.PayoutResult{FailureReason: cause.Error()}); err != nil {
		return models.PayoutRequest{}, errors.Join(cause, fmt.Errorf("mark payout failed: %w", err))
	}
	req.Status = domain.PayoutStatusFailed
	req.FailureReason = cause.Error()
	observability.IncrementPayout(req.Method, "failed")
	zap.L().Error("payout failed",
		zap.String("payout_id", req.ID.String()),
		zap.String("method", req.Method),
		zap.Error(cause))
	return req, domain.ExternalServiceError("payout_rail", cause)
}

func (s *PayoutService) callRail(ctx context.Context, req models.PayoutRequest, recipient models.Recipient, currency domain.Currency) (rail.PayoutReceipt, error) {
	switch req.Method {
	case domain.PayoutMethodCryptoWallet:
		return s.cryptoRail.Payout(ctx, recipient.CryptoAddress, req.Amount, currency.Code)
	case domain.PayoutMethodCard:
		return s.cardRail.PayoutToCard(ctx, recipient.CardToken, req.Amount, currency.Code)
	case domain.PayoutMethodBankTransfer:
		return s.cardRail.PayoutToBank(ctx, recipient.BankDetails, req.Amount, currency.Code)
	case domain.PayoutMethodEmail:
		// Email payouts settle out of band through operator tooling.
		return rail.PayoutReceipt{Settled: false}, nil
	default:
		return rail.PayoutReceipt{}, fmt.Errorf("unsupported payout method %s", req.Method)
	}
}

func (s *PayoutService) Get(ctx context.Context, id uuid.UUID) (models.PayoutRequest, error) {
	req, err := s.store.Payouts().Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.PayoutRequest{}, domain.NotFoundError("payout", id.String())
		}
		return models.PayoutRequest{}, err
	}
	return req, nil
}

// Complete finalizes a processing payout once the rail confirms settlement
// out of band. It releases the reserved escrow funds.
func (s *PayoutService) Complete(ctx context.Context, id uuid.UUID) (models.PayoutRequest, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return models.PayoutRequest{}, err
	}
	if req.Status != domain.PayoutStatusProcessing {
		return models.PayoutRequest{}, domain.StateConflictError(req.Status, domain.PayoutStatusCompleted)
	}
	return s.settle(ctx, req, rail.PayoutReceipt{ExternalID: req.ExternalID, Fee: req.Fee, Settled: true})
}

// Fail marks a processing payout failed after the rail reported an
// asynchronous failure. The caller rolls back the claim.
func (s *PayoutService) Fail(ctx context.Context, id uuid.UUID, reason string) (models.PayoutRequest, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return models.PayoutRequest{}, err
	}
	if req.Status != domain.PayoutStatusProcessing {
		return models.PayoutRequest{}, domain.StateConflictError(req.Status, domain.PayoutStatusFailed)
	}
	req, _ = s.fail(ctx, req, errors.New(reason))
	return req, nil
}
