package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ucpg/payment-gateway/internal/domain"
	"github.com/ucpg/payment-gateway/internal/models"
	"github.com/ucpg/payment-gateway/internal/repository"
)

// transactionTransitions is the full lifecycle table. A status missing a
// target set is terminal.
var transactionTransitions = map[string]map[string]struct{}{
	domain.TxStatusPending: {
		domain.TxStatusPaymentProcessing: {},
		domain.TxStatusExpired:           {},
		domain.TxStatusCancelled:         {},
	},
	domain.TxStatusPaymentProcessing: {
		domain.TxStatusPaymentConfirmed: {},
		domain.TxStatusFailed:           {},
	},
	domain.TxStatusPaymentConfirmed: {
		domain.TxStatusEscrowed: {},
	},
	domain.TxStatusEscrowed: {
		domain.TxStatusReadyForClaim: {},
	},
	domain.TxStatusReadyForClaim: {
		domain.TxStatusClaimProcessing: {},
		domain.TxStatusExpired:         {},
	},
	domain.TxStatusClaimProcessing: {
		domain.TxStatusCompleted:     {},
		domain.TxStatusReadyForClaim: {},
		domain.TxStatusRefunded:      {},
	},
	domain.TxStatusCompleted: {},
	domain.TxStatusExpired:   {},
	domain.TxStatusCancelled: {},
	domain.TxStatusFailed:    {},
	domain.TxStatusRefunded:  {},
}

func normalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

func canTransition(current, next string) bool {
	targets, ok := transactionTransitions[normalizeStatus(current)]
	if !ok {
		return false
	}
	_, ok = targets[normalizeStatus(next)]
	return ok
}

// IsTerminalStatus reports whether no further transitions leave status.
func IsTerminalStatus(status string) bool {
	targets, ok := transactionTransitions[normalizeStatus(status)]
	return ok && len(targets) == 0
}

// LedgerService owns the Transaction state machine and its append-only
// audit log. All status changes in the system go through Transition.
type LedgerService struct {
	store repository.Store
}

func NewLedgerService(store repository.Store) *LedgerService {
	return &LedgerService{store: store}
}

// Create persists a new transaction and its "created" log entry.
func (s *LedgerService) Create(ctx context.Context, tx models.Transaction) error {
	if err := s.store.Transactions().Create(ctx, tx); err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	if err := s.store.TransactionLogs().Append(ctx, models.TransactionLog{
		TransactionID: tx.ID,
		Action:        domain.LogActionCreated,
		NewStatus:     tx.Status,
		Details: map[string]any{
			"original_amount":    tx.OriginalAmount.String(),
			"original_currency":  tx.OriginalCurrency,
			"converted_amount":   tx.ConvertedAmount.String(),
			"converted_currency": tx.ConvertedCurrency,
		},
		Timestamp: tx.CreatedAt,
	}); err != nil {
		return fmt.Errorf("log transaction creation: %w", err)
	}
	return nil
}

func (s *LedgerService) Get(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	tx, err := s.store.Transactions().Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.Transaction{}, domain.NotFoundError("transaction", id.String())
		}
		return models.Transaction{}, err
	}
	return tx, nil
}

// Transition moves the transaction to next and appends one audit entry.
// Re-requesting the current status is a no-op success. A concurrent change
// between the read and the guarded update surfaces as StateConflictError.
func (s *LedgerService) Transition(ctx context.Context, id uuid.UUID, next, action string, details map[string]any) error {
	tx, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	next = normalizeStatus(next)
	if normalizeStatus(tx.Status) == next {
		return nil
	}
	if !canTransition(tx.Status, next) {
		return domain.StateConflictError(tx.Status, next)
	}

	var completedAt *time.Time
	if IsTerminalStatus(next) {
		now := time.Now().UTC()
		completedAt = &now
	}

	rows, err := s.store.Transactions().UpdateStatusGuarded(ctx, id, tx.Status, next, completedAt)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	if rows == 0 {
		return domain.StateConflictError(tx.Status, next)
	}

	if action == "" {
		action = domain.LogActionStatusChanged
	}
	if err := s.store.TransactionLogs().Append(ctx, models.TransactionLog{
		TransactionID: id,
		Action:        action,
		OldStatus:     tx.Status,
		NewStatus:     next,
		Details:       details,
		Timestamp:     time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("log status change: %w", err)
	}

	zap.L().Info("transaction status changed",
		zap.String("transaction_id", id.String()),
		zap.String("from", tx.Status),
		zap.String("to", next))
	return nil
}

// History returns the transaction's full audit trail, oldest first.
func (s *LedgerService) History(ctx context.Context, id uuid.UUID) ([]models.TransactionLog, error) {
	return s.store.TransactionLogs().ListByTransaction(ctx, id)
}
