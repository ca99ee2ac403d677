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

type promoRepo struct {
	db *pgxpool.Pool
}

const promoColumns = `id, transaction_id, code, link_url, is_used, used_at, origin, recipient, created_at, expires_at`

func scanPromoLink(row interface{ Scan(...any) error }) (models.PromoLink, error) {
	var link models.PromoLink
	var recipient []byte
	err := row.Scan(&link.ID, &link.TransactionID, &link.Code, &link.LinkURL,
		&link.IsUsed, &link.UsedAt, &link.Origin, &recipient, &link.CreatedAt, &link.ExpiresAt)
	if err != nil {
		return models.PromoLink{}, mapErr(err)
	}
	if len(recipient) > 0 {
		if err := json.Unmarshal(recipient, &link.Recipient); err != nil {
			return models.PromoLink{}, fmt.Errorf("failed to decode recipient: %w", err)
		}
	}
	return link, nil
}

func (r *promoRepo) Create(ctx context.Context, link models.PromoLink) error {
	query := `
		INSERT INTO promo_links (id, transaction_id, code, link_url, is_used, origin, created_at, expires_at)
		VALUES ($1, $2, $3, $4, FALSE, '', $5, $6)
	`
	_, err := r.db.Exec(ctx, query, link.ID, link.TransactionID, link.Code, link.LinkURL, link.CreatedAt, link.ExpiresAt)
	return mapErr(err)
}

func (r *promoRepo) Get(ctx context.Context, id uuid.UUID) (models.PromoLink, error) {
	return scanPromoLink(r.db.QueryRow(ctx, `SELECT `+promoColumns+` FROM promo_links WHERE id = $1`, id))
}

func (r *promoRepo) GetByCode(ctx context.Context, code string) (models.PromoLink, error) {
	return scanPromoLink(r.db.QueryRow(ctx, `SELECT `+promoColumns+` FROM promo_links WHERE code = $1`, code))
}

func (r *promoRepo) GetByTransaction(ctx context.Context, txID uuid.UUID) (models.PromoLink, error) {
	return scanPromoLink(r.db.QueryRow(ctx, `SELECT `+promoColumns+` FROM promo_links WHERE transaction_id = $1`, txID))
}

func (r *promoRepo) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM promo_links WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check promo code: %w", err)
	}
	return exists, nil
}

// Claim flips the single-use flag. The is_used guard makes the flip
// exactly-once under concurrent claims; zero rows means already used
// or unknown code.
func (r *promoRepo) Claim(ctx context.Context, code string, recipient models.Recipient, origin string, usedAt time.Time) (int64, error) {
	payload, err := json.Marshal(recipient)
	if err != nil {
		return 0, fmt.Errorf("failed to encode recipient: %w", err)
	}
	query := `
		UPDATE promo_links
		SET is_used = TRUE, used_at = $2, recipient = $3, origin = $4
		WHERE code = $1 AND NOT is_used
	`
	tag, err := r.db.Exec(ctx, query, code, usedAt, payload, origin)
	if err != nil {
		return 0, fmt.Errorf("failed to claim promo link: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *promoRepo) Unclaim(ctx context.Context, code string) (int64, error) {
	query := `
		UPDATE promo_links
		SET is_used = FALSE, used_at = NULL, recipient = NULL, origin = ''
		WHERE code = $1 AND is_used
	`
	tag, err := r.db.Exec(ctx, query, code)
	if err != nil {
		return 0, fmt.Errorf("failed to unclaim promo link: %w", err)
	}
	return tag.RowsAffected(), nil
}

type payoutRepo struct {
	db *pgxpool.Pool
}

const payoutColumns = `
	id, promo_link_id, method, amount, currency, recipient, status, external_id,
	fee, failure_reason, created_at, processed_at, completed_at, escrow_account_id`

func scanPayout(row interface{ Scan(...any) error }) (models.PayoutRequest, error) {
	var req models.PayoutRequest
	var recipient []byte
	err := row.Scan(
		&req.ID, &req.PromoLinkID, &req.Method, &req.Amount, &req.Currency, &recipient,
		&req.Status, &req.ExternalID, &req.Fee, &req.FailureReason,
		&req.CreatedAt, &req.ProcessedAt, &req.CompletedAt, &req.EscrowAccountID,
	)
	if err != nil {
		return models.PayoutRequest{}, mapErr(err)
	}
	if len(recipient) > 0 {
		if err := json.Unmarshal(recipient, &req.Recipient); err != nil {
			return models.PayoutRequest{}, fmt.Errorf("failed to decode recipient: %w", err)
		}
	}
	return req, nil
}

func (r *payoutRepo) Create(ctx context.Context, req models.PayoutRequest) error {
	recipient, err := json.Marshal(req.Recipient)
	if err != nil {
		return fmt.Errorf("failed to encode recipient: %w", err)
	}
	query := `
		INSERT INTO payout_requests (
			id, promo_link_id, method, amount, currency, recipient, status,
			external_id, fee, failure_reason, created_at, escrow_account_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.Exec(ctx, query,
		req.ID, req.PromoLinkID, req.Method, req.Amount, req.Currency, recipient, req.Status,
		req.ExternalID, req.Fee, req.FailureReason, req.CreatedAt, req.EscrowAccountID,
	)
	return mapErr(err)
}

func (r *payoutRepo) Get(ctx context.Context, id uuid.UUID) (models.PayoutRequest, error) {
	return scanPayout(r.db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payout_requests WHERE id = $1`, id))
}

func (r *payoutRepo) GetByPromoLink(ctx context.Context, promoLinkID uuid.UUID) (models.PayoutRequest, error) {
	return scanPayout(r.db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payout_requests WHERE promo_link_id = $1`, promoLinkID))
}

func (r *payoutRepo) UpdateStatusGuarded(ctx context.Context, id uuid.UUID, expect, next string, result repository.PayoutResult) (int64, error) {
	query := `
		UPDATE payout_requests
		SET status = $3,
		    external_id = CASE WHEN $4 = '' THEN external_id ELSE $4 END,
		    fee = CASE WHEN $5::numeric = 0 THEN fee ELSE $5 END,
		    failure_reason = CASE WHEN $6 = '' THEN failure_reason ELSE $6 END,
		    processed_at = COALESCE($7, processed_at),
		    completed_at = COALESCE($8, completed_at)
		WHERE id = $1 AND status = $2
	`
	tag, err := r.db.Exec(ctx, query, id, expect, next,
		result.ExternalID, result.Fee, result.FailureReason, result.ProcessedAt, result.CompletedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to update payout status: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *payoutRepo) Retry(ctx context.Context, id uuid.UUID, method string, recipient models.Recipient) (int64, error) {
	encoded, err := json.Marshal(recipient)
	if err != nil {
		return 0, fmt.Errorf("failed to encode recipient: %w", err)
	}
	query := `
		UPDATE payout_requests
		SET status = 'pending',
		    method = $2,
		    recipient = $3,
		    failure_reason = '',
		    external_id = '',
		    processed_at = NULL
		WHERE id = $1 AND status = 'failed'
	`
	tag, err := r.db.Exec(ctx, query, id, method, encoded)
	if err != nil {
		return 0, fmt.Errorf("failed to retry payout: %w", err)
	}
	return tag.RowsAffected(), nil
}
