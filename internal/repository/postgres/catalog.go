package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ucpg/payment-gateway/internal/domain"
	"github.com/ucpg/payment-gateway/internal/models"
	"github.com/ucpg/payment-gateway/internal/repository"
)

type currencyRepo struct {
	db *pgxpool.Pool
}

func (r *currencyRepo) Get(ctx context.Context, code string) (domain.Currency, error) {
	var c domain.Currency
	query := `SELECT code, name, symbol, is_crypto, is_active, decimal_places FROM currencies WHERE code = $1`
	err := r.db.QueryRow(ctx, query, code).Scan(&c.Code, &c.Name, &c.Symbol, &c.IsCrypto, &c.IsActive, &c.DecimalPlaces)
	if err != nil {
		return domain.Currency{}, mapErr(err)
	}
	return c, nil
}

func (r *currencyRepo) List(ctx context.Context) ([]domain.Currency, error) {
	query := `SELECT code, name, symbol, is_crypto, is_active, decimal_places FROM currencies ORDER BY code`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list currencies: %w", err)
	}
	defer rows.Close()

	var out []domain.Currency
	for rows.Next() {
		var c domain.Currency
		if err := rows.Scan(&c.Code, &c.Name, &c.Symbol, &c.IsCrypto, &c.IsActive, &c.DecimalPlaces); err != nil {
			return nil, fmt.Errorf("failed to scan currency: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *currencyRepo) Upsert(ctx context.Context, c domain.Currency) error {
	query := `
		INSERT INTO currencies (code, name, symbol, is_crypto, is_active, decimal_places)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			symbol = EXCLUDED.symbol,
			is_crypto = EXCLUDED.is_crypto,
			is_active = EXCLUDED.is_active,
			decimal_places = EXCLUDED.decimal_places
	`
	if _, err := r.db.Exec(ctx, query, c.Code, c.Name, c.Symbol, c.IsCrypto, c.IsActive, c.DecimalPlaces); err != nil {
		return fmt.Errorf("failed to upsert currency: %w", err)
	}
	return nil
}

type rateRepo struct {
	db *pgxpool.Pool
}

func (r *rateRepo) Insert(ctx context.Context, rate models.ExchangeRate) error {
	query := `INSERT INTO exchange_rates (from_currency, to_currency, rate, source, observed_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.Exec(ctx, query, rate.FromCurrency, rate.ToCurrency, rate.Rate, rate.Source, rate.Timestamp); err != nil {
		return fmt.Errorf("failed to insert exchange rate: %w", err)
	}
	return nil
}

func (r *rateRepo) Latest(ctx context.Context, from, to string, notBefore time.Time) (models.ExchangeRate, error) {
	var obs models.ExchangeRate
	query := `
		SELECT id, from_currency, to_currency, rate, source, observed_at
		FROM exchange_rates
		WHERE from_currency = $1 AND to_currency = $2 AND observed_at >= $3
		ORDER BY observed_at DESC
		LIMIT 1
	`
	err := r.db.QueryRow(ctx, query, from, to, notBefore).
		Scan(&obs.ID, &obs.FromCurrency, &obs.ToCurrency, &obs.Rate, &obs.Source, &obs.Timestamp)
	if err != nil {
		return models.ExchangeRate{}, mapErr(err)
	}
	return obs, nil
}

func (r *rateRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM exchange_rates WHERE observed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune exchange rates: %w", err)
	}
	return tag.RowsAffected(), nil
}

type commissionRepo struct {
	db *pgxpool.Pool
}

func (r *commissionRepo) Lookup(ctx context.Context, currencyCode *string, providerID *uuid.UUID) (models.CommissionSetting, error) {
	var s models.CommissionSetting
	// NULL-safe scope match: a nil key only matches rows where the column is unset.
	query := `
		SELECT id, currency_code, provider_id, rate, is_active, created_at, updated_at
		FROM commission_settings
		WHERE is_active
		  AND currency_code IS NOT DISTINCT FROM $1
		  AND provider_id IS NOT DISTINCT FROM $2
		LIMIT 1
	`
	err := r.db.QueryRow(ctx, query, currencyCode, providerID).
		Scan(&s.ID, &s.CurrencyCode, &s.ProviderID, &s.Rate, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return models.CommissionSetting{}, mapErr(err)
	}
	return s, nil
}

func (r *commissionRepo) Save(ctx context.Context, setting *models.CommissionSetting) error {
	if setting.ID != 0 {
		query := `
			UPDATE commission_settings
			SET currency_code = $2, provider_id = $3, rate = $4, is_active = $5, updated_at = NOW()
			WHERE id = $1
			RETURNING created_at, updated_at
		`
		err := r.db.QueryRow(ctx, query, setting.ID, setting.CurrencyCode, setting.ProviderID, setting.Rate, setting.IsActive).
			Scan(&setting.CreatedAt, &setting.UpdatedAt)
		return mapErr(err)
	}
	query := `
		INSERT INTO commission_settings (currency_code, provider_id, rate, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, setting.CurrencyCode, setting.ProviderID, setting.Rate, setting.IsActive).
		Scan(&setting.ID, &setting.CreatedAt, &setting.UpdatedAt)
	return mapErr(err)
}

func (r *commissionRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM commission_settings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete commission setting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *commissionRepo) List(ctx context.Context) ([]models.CommissionSetting, error) {
	query := `
		SELECT id, currency_code, provider_id, rate, is_active, created_at, updated_at
		FROM commission_settings
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list commission settings: %w", err)
	}
	defer rows.Close()

	var out []models.CommissionSetting
	for rows.Next() {
		var s models.CommissionSetting
		if err := rows.Scan(&s.ID, &s.CurrencyCode, &s.ProviderID, &s.Rate, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan commission setting: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type providerRepo struct {
	db *pgxpool.Pool
}

const providerColumns = `id, name, api_key, api_secret, webhook_url, commission_rate, is_active, created_at`

func scanProvider(row interface{ Scan(...any) error }) (models.Provider, error) {
	var p models.Provider
	err := row.Scan(&p.ID, &p.Name, &p.APIKey, &p.APISecret, &p.WebhookURL, &p.CommissionRate, &p.IsActive, &p.CreatedAt)
	if err != nil {
		return models.Provider{}, mapErr(err)
	}
	return p, nil
}

func (r *providerRepo) Get(ctx context.Context, id uuid.UUID) (models.Provider, error) {
	return scanProvider(r.db.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, id))
}

func (r *providerRepo) GetByAPIKey(ctx context.Context, apiKey string) (models.Provider, error) {
	return scanProvider(r.db.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE api_key = $1`, apiKey))
}

func (r *providerRepo) Create(ctx context.Context, p models.Provider) error {
	query := `
		INSERT INTO providers (id, name, api_key, api_secret, webhook_url, commission_rate, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query, p.ID, p.Name, p.APIKey, p.APISecret, p.WebhookURL, p.CommissionRate, p.IsActive, p.CreatedAt)
	return mapErr(err)
}
