package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ucpg/payment-gateway/internal/models"
	"github.com/ucpg/payment-gateway/internal/repository"
)

type webhookRepo struct {
	db *pgxpool.Pool
}

const webhookColumns = `
	id, provider_id, transaction_id, event, payload, delivered, delivery_attempts,
	last_attempt, next_retry, response_code, error_message, created_at, delivered_at`

func scanWebhook(row interface{ Scan(...any) error }) (models.ProviderWebhook, error) {
	var wh models.ProviderWebhook
	err := row.Scan(
		&wh.ID, &wh.ProviderID, &wh.TransactionID, &wh.Event, &wh.Payload,
		&wh.Delivered, &wh.DeliveryAttempts, &wh.LastAttempt, &wh.NextRetry,
		&wh.ResponseCode, &wh.ErrorMessage, &wh.CreatedAt, &wh.DeliveredAt,
	)
	if err != nil {
		return models.ProviderWebhook{}, mapErr(err)
	}
	return wh, nil
}

func (r *webhookRepo) Enqueue(ctx context.Context, wh models.ProviderWebhook) error {
	query := `
		INSERT INTO provider_webhooks (
			id, provider_id, transaction_id, event, payload,
			delivered, delivery_attempts, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, FALSE, 0, '', $6)
	`
	_, err := r.db.Exec(ctx, query, wh.ID, wh.ProviderID, wh.TransactionID, wh.Event, wh.Payload, wh.CreatedAt)
	return mapErr(err)
}

func (r *webhookRepo) Due(ctx context.Context, now time.Time, maxAttempts, limit int) ([]models.ProviderWebhook, error) {
	query := `
		SELECT ` + webhookColumns + `
		FROM provider_webhooks
		WHERE NOT delivered
		  AND delivery_attempts < $2
		  AND (next_retry IS NULL OR next_retry <= $1)
		ORDER BY created_at
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, now, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due webhooks: %w", err)
	}
	defer rows.Close()

	var out []models.ProviderWebhook
	for rows.Next() {
		wh, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		out = append(out, wh)
	}
	return out, rows.Err()
}

func (r *webhookRepo) MarkDelivered(ctx context.Context, id uuid.UUID, responseCode int, at time.Time) error {
	query := `
		UPDATE provider_webhooks
		SET delivered = TRUE,
		    delivery_attempts = delivery_attempts + 1,
		    response_code = $2,
		    last_attempt = $3,
		    delivered_at = $3
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, responseCode, at)
	if err != nil {
		return fmt.Errorf("failed to mark webhook delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *webhookRepo) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, responseCode *int, attemptAt time.Time, nextRetry *time.Time) error {
	query := `
		UPDATE provider_webhooks
		SET delivery_attempts = delivery_attempts + 1,
		    error_message = $2,
		    response_code = $3,
		    last_attempt = $4,
		    next_retry = $5
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, errMsg, responseCode, attemptAt, nextRetry)
	if err != nil {
		return fmt.Errorf("failed to mark webhook failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *webhookRepo) ListExhausted(ctx context.Context, maxAttempts, limit int) ([]models.ProviderWebhook, error) {
	query := `
		SELECT ` + webhookColumns + `
		FROM provider_webhooks
		WHERE NOT delivered AND delivery_attempts >= $1
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list exhausted webhooks: %w", err)
	}
	defer rows.Close()

	var out []models.ProviderWebhook
	for rows.Next() {
		wh, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		out = append(out, wh)
	}
	return out, rows.Err()
}

func (r *webhookRepo) CountExhausted(ctx context.Context, maxAttempts int) (int64, error) {
	var n int64
	query := `SELECT COUNT(*) FROM provider_webhooks WHERE NOT delivered AND delivery_attempts >= $1`
	if err := r.db.QueryRow(ctx, query, maxAttempts).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count exhausted webhooks: %w", err)
	}
	return n, nil
}
