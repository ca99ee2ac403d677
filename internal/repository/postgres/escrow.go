package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ucpg/payment-gateway/internal/models"
	"github.com/ucpg/payment-gateway/internal/repository"
)

type escrowRepo struct {
	db *pgxpool.Pool
}

const escrowColumns = `id, rail_type, currency, total_balance, available_balance, reserved_balance, created_at, updated_at`

func scanEscrow(row interface{ Scan(...any) error }) (models.EscrowAccount, error) {
	var a models.EscrowAccount
	err := row.Scan(&a.ID, &a.RailType, &a.Currency, &a.TotalBalance, &a.AvailableBalance, &a.ReservedBalance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return models.EscrowAccount{}, mapErr(err)
	}
	return a, nil
}

func (r *escrowRepo) GetOrCreate(ctx context.Context, railType, currency string) (models.EscrowAccount, error) {
	// Upsert keeps the (rail_type, currency) pair unique under concurrent creates.
	query := `
		INSERT INTO escrow_accounts (id, rail_type, currency, total_balance, available_balance, reserved_balance, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, 0, NOW(), NOW())
		ON CONFLICT (rail_type, currency) DO UPDATE SET updated_at = escrow_accounts.updated_at
		RETURNING ` + escrowColumns
	return scanEscrow(r.db.QueryRow(ctx, query, uuid.New(), railType, currency))
}

func (r *escrowRepo) Get(ctx context.Context, id uuid.UUID) (models.EscrowAccount, error) {
	return scanEscrow(r.db.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrow_accounts WHERE id = $1`, id))
}

func (r *escrowRepo) Deposit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	query := `
		UPDATE escrow_accounts
		SET total_balance = total_balance + $2,
		    available_balance = available_balance + $2,
		    updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, amount)
	if err != nil {
		return fmt.Errorf("failed to deposit into escrow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Reserve moves funds from available to reserved. The balance guard in the
// WHERE clause makes overdraw impossible; zero rows means insufficient funds.
func (r *escrowRepo) Reserve(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error) {
	query := `
		UPDATE escrow_accounts
		SET available_balance = available_balance - $2,
		    reserved_balance = reserved_balance + $2,
		    updated_at = NOW()
		WHERE id = $1 AND available_balance >= $2
	`
	tag, err := r.db.Exec(ctx, query, id, amount)
	if err != nil {
		return 0, fmt.Errorf("failed to reserve escrow funds: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *escrowRepo) Release(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error) {
	query := `
		UPDATE escrow_accounts
		SET reserved_balance = reserved_balance - $2,
		    total_balance = total_balance - $2,
		    updated_at = NOW()
		WHERE id = $1 AND reserved_balance >= $2
	`
	tag, err := r.db.Exec(ctx, query, id, amount)
	if err != nil {
		return 0, fmt.Errorf("failed to release escrow funds: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *escrowRepo) Return(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error) {
	query := `
		UPDATE escrow_accounts
		SET reserved_balance = reserved_balance - $2,
		    available_balance = available_balance + $2,
		    updated_at = NOW()
		WHERE id = $1 AND reserved_balance >= $2
	`
	tag, err := r.db.Exec(ctx, query, id, amount)
	if err != nil {
		return 0, fmt.Errorf("failed to return escrow funds: %w", err)
	}
	return tag.RowsAffected(), nil
}
