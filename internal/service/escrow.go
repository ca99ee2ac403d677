package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ucpg/payment-gateway/internal/domain"
	"github.com/ucpg/payment-gateway/internal/models"
	"github.com/ucpg/payment-gateway/internal/repository"
)

// EscrowService moves funds through the escrow ledger. Every operation is
// a single guarded statement, atomic per account; zero rows affected means
// the balance precondition failed.
type EscrowService struct {
	store repository.Store
}

func NewEscrowService(store repository.Store) *EscrowService {
	return &EscrowService{store: store}
}

// railTypeForMethod maps a payment method onto the escrow account rail.
func railTypeForMethod(method string) string {
	switch method {
	case domain.PaymentMethodCard:
		return domain.EscrowRailCard
	case domain.PaymentMethodCryptoDeposit:
		return domain.EscrowRailCrypto
	case domain.PaymentMethodBankTransfer:
		return domain.EscrowRailBank
	default:
		return domain.EscrowRailCard
	}
}

// AccountFor lazily creates the (rail type, currency) account.
func (s *EscrowService) AccountFor(ctx context.Context, paymentMethod, currency string) (models.EscrowAccount, error) {
	acct, err := s.store.Escrow().GetOrCreate(ctx, railTypeForMethod(paymentMethod), currency)
	if err != nil {
		return models.EscrowAccount{}, fmt.Errorf("get escrow account: %w", err)
	}
	return acct, nil
}

func (s *EscrowService) Get(ctx context.Context, id uuid.UUID) (models.EscrowAccount, error) {
	acct, err := s.store.Escrow().Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.EscrowAccount{}, domain.NotFoundError("escrow account", id.String())
		}
		return models.EscrowAccount{}, err
	}
	return acct, nil
}

// Deposit adds confirmed funds: total and available both grow.
func (s *EscrowService) Deposit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if err := s.store.Escrow().Deposit(ctx, id, amount); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NotFoundError("escrow account", id.String())
		}
		return fmt.Errorf("escrow deposit: %w", err)
	}
	return nil
}

// Reserve moves funds available -> reserved for a pending claim.
func (s *EscrowService) Reserve(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	rows, err := s.store.Escrow().Reserve(ctx, id, amount)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NotFoundError("escrow account", id.String())
		}
		return fmt.Errorf("escrow reserve: %w", err)
	}
	if rows == 0 {
		return domain.InsufficientFundsError("reserve")
	}
	return nil
}

// Release pays reserved funds out of escrow permanently.
func (s *EscrowService) Release(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	rows, err := s.store.Escrow().Release(ctx, id, amount)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NotFoundError("escrow account", id.String())
		}
		return fmt.Errorf("escrow release: %w", err)
	}
	if rows == 0 {
		return domain.InsufficientFundsError("release")
	}
	return nil
}

// Return moves reserved funds back to available on cancellation or rollback.
func (s *EscrowService) Return(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	rows, err := s.store.Escrow().Return(ctx, id, amount)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NotFoundError("escrow account", id.String())
		}
		return fmt.Errorf("escrow return: %w", err)
	}
	if rows == 0 {
		return domain.InsufficientFundsError("return")
	}
	return nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ValidationError("amount must be positive, got %s", amount)
	}
	return nil
}
