package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ucpg/payment-gateway/internal/models"
	"github.com/ucpg/payment-gateway/internal/repository"
)

type transactionRepo struct {
	db *pgxpool.Pool
}

const txColumns = `
	id, original_amount, original_currency, converted_amount, converted_currency,
	commission_rate, commission_amount, net_amount, status, payment_method,
	payment_reference, card_intent_id, crypto_deposit_address, crypto_tx_hash,
	escrow_account_id, provider_id, contact_email, contact_telegram,
	created_at, updated_at, expires_at, completed_at`

func scanTransaction(row interface{ Scan(...any) error }) (models.Transaction, error) {
	var tx models.Transaction
	err := row.Scan(
		&tx.ID, &tx.OriginalAmount, &tx.OriginalCurrency, &tx.ConvertedAmount, &tx.ConvertedCurrency,
		&tx.CommissionRate, &tx.CommissionAmount, &tx.NetAmount, &tx.Status, &tx.PaymentMethod,
		&tx.PaymentReference, &tx.CardIntentID, &tx.CryptoDepositAddress, &tx.CryptoTxHash,
		&tx.EscrowAccountID, &tx.ProviderID, &tx.ContactEmail, &tx.ContactTelegram,
		&tx.CreatedAt, &tx.UpdatedAt, &tx.ExpiresAt, &tx.CompletedAt,
	)
	if err != nil {
		return models.Transaction{}, mapErr(err)
	}
	return tx, nil
}

func (r *transactionRepo) Create(ctx context.Context, tx models.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, original_amount, original_currency, converted_amount, converted_currency,
			commission_rate, commission_amount, net_amount, status, payment_method,
			payment_reference, card_intent_id, crypto_deposit_address, crypto_tx_hash,
			escrow_account_id, provider_id, contact_email, contact_telegram,
			created_at, updated_at, expires_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)
	`
	_, err := r.db.Exec(ctx, query,
		tx.ID, tx.OriginalAmount, tx.OriginalCurrency, tx.ConvertedAmount, tx.ConvertedCurrency,
		tx.CommissionRate, tx.CommissionAmount, tx.NetAmount, tx.Status, tx.PaymentMethod,
		tx.PaymentReference, tx.CardIntentID, tx.CryptoDepositAddress, tx.CryptoTxHash,
		tx.EscrowAccountID, tx.ProviderID, tx.ContactEmail, tx.ContactTelegram,
		tx.CreatedAt, tx.UpdatedAt, tx.ExpiresAt, tx.CompletedAt,
	)
	return mapErr(err)
}

func (r *transactionRepo) Get(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id))
}

func (r *transactionRepo) UpdateStatusGuarded(ctx context.Context, id uuid.UUID, expect, next string, completedAt *time.Time) (int64, error) {
	query := `
		UPDATE transactions
		SET status = $3, completed_at = COALESCE($4, completed_at), updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	tag, err := r.db.Exec(ctx, query, id, expect, next, completedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to update transaction status: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *transactionRepo) SetPaymentReference(ctx context.Context, id uuid.UUID, method, reference string) error {
	query := `UPDATE transactions SET payment_method = $2, payment_reference = $3, updated_at = NOW() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, method, reference)
	if err != nil {
		return fmt.Errorf("failed to set payment reference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *transactionRepo) SetCardIntent(ctx context.Context, id uuid.UUID, intentID string) error {
	query := `UPDATE transactions SET card_intent_id = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, intentID)
	if err != nil {
		return fmt.Errorf("failed to set card intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *transactionRepo) SetCryptoDeposit(ctx context.Context, id uuid.UUID, address, txHash string) error {
	query := `
		UPDATE transactions
		SET crypto_deposit_address = CASE WHEN $2 = '' THEN crypto_deposit_address ELSE $2 END,
		    crypto_tx_hash = CASE WHEN $3 = '' THEN crypto_tx_hash ELSE $3 END,
		    updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, address, txHash)
	if err != nil {
		return fmt.Errorf("failed to set crypto deposit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *transactionRepo) SetEscrowAccount(ctx context.Context, id uuid.UUID, escrowID uuid.UUID) error {
	query := `UPDATE transactions SET escrow_account_id = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, escrowID)
	if err != nil {
		return fmt.Errorf("failed to set escrow account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *transactionRepo) ListExpiredBefore(ctx context.Context, statuses []string, asOf time.Time, limit int) ([]models.Transaction, error) {
	query := `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE status = ANY($1) AND expires_at <= $2
		ORDER BY expires_at
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, statuses, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

type logRepo struct {
	db *pgxpool.Pool
}

func (r *logRepo) Append(ctx context.Context, entry models.TransactionLog) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to encode log details: %w", err)
	}
	query := `
		INSERT INTO transaction_logs (transaction_id, action, old_status, new_status, details, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))
	`
	var ts *time.Time
	if !entry.Timestamp.IsZero() {
		ts = &entry.Timestamp
	}
	if _, err := r.db.Exec(ctx, query, entry.TransactionID, entry.Action, entry.OldStatus, entry.NewStatus, details, ts); err != nil {
		return fmt.Errorf("failed to append transaction log: %w", err)
	}
	return nil
}

func (r *logRepo) ListByTransaction(ctx context.Context, txID uuid.UUID) ([]models.TransactionLog, error) {
	query := `
		SELECT id, transaction_id, action, old_status, new_status, details, created_at
		FROM transaction_logs
		WHERE transaction_id = $1
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, txID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transaction logs: %w", err)
	}
	defer rows.Close()

	var out []models.TransactionLog
	for rows.Next() {
		var e models.TransactionLog
		var details []byte
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.Action, &e.OldStatus, &e.NewStatus, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction log: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("failed to decode log details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
