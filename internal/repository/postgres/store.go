// Package postgres implements the repository interfaces on top of a pgx
// connection pool. State transitions and balance movements are expressed
// as guarded UPDATEs, so each call is atomic without explicit row locks.
package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ucpg/payment-gateway/internal/repository"
)

type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a store wrapper around a pgx connection pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Currencies() repository.Currencies           { return &currencyRepo{db: s.db} }
func (s *Store) Rates() repository.Rates                     { return &rateRepo{db: s.db} }
func (s *Store) Commissions() repository.Commissions         { return &commissionRepo{db: s.db} }
func (s *Store) Providers() repository.Providers             { return &providerRepo{db: s.db} }
func (s *Store) Transactions() repository.Transactions       { return &transactionRepo{db: s.db} }
func (s *Store) TransactionLogs() repository.TransactionLogs { return &logRepo{db: s.db} }
func (s *Store) Escrow() repository.EscrowAccounts           { return &escrowRepo{db: s.db} }
func (s *Store) PromoLinks() repository.PromoLinks           { return &promoRepo{db: s.db} }
func (s *Store) Payouts() repository.Payouts                 { return &payoutRepo{db: s.db} }
func (s *Store) Webhooks() repository.Webhooks               { return &webhookRepo{db: s.db} }

const uniqueViolation = "23505"

// mapErr translates pgx errors into the repository sentinels so callers
// never depend on driver types.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return repository.ErrDuplicate
	}
	return err
}
