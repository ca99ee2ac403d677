package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ucpg/payment-gateway/internal/domain"
	"github.com/ucpg/payment-gateway/internal/models"
	"github.com/ucpg/payment-gateway/internal/repository"
)

// CommissionService resolves the applicable commission rate through a fixed
// precedence waterfall and splits amounts into commission and net parts.
type CommissionService struct {
	store       repository.Store
	defaultRate decimal.Decimal
	maxRate     decimal.Decimal
}

func NewCommissionService(store repository.Store, defaultRate, maxRate decimal.Decimal) *CommissionService {
	return &CommissionService{
		store:       store,
		defaultRate: defaultRate,
		maxRate:     maxRate,
	}
}

// Resolve walks the waterfall, highest precedence first:
// provider+currency setting, provider setting, the provider's own default
// rate, currency setting, global setting, then the system default.
// The first match wins; lower scopes are never consulted after a hit.
func (s *CommissionService) Resolve(ctx context.Context, currencyCode string, providerID *uuid.UUID) (decimal.Decimal, error) {
	commissions := s.store.Commissions()

	if providerID != nil {
		setting, err := commissions.Lookup(ctx, &currencyCode, providerID)
		if err == nil {
			return setting.Rate, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return decimal.Zero, fmt.Errorf("lookup provider+currency rate: %w", err)
		}

		setting, err = commissions.Lookup(ctx, nil, providerID)
		if err == nil {
			return setting.Rate, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return decimal.Zero, fmt.Errorf("lookup provider rate: %w", err)
		}

		provider, err := s.store.Providers().Get(ctx, *providerID)
		if err == nil && provider.IsActive && provider.CommissionRate.IsPositive() {
			return provider.CommissionRate, nil
		}
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return decimal.Zero, fmt.Errorf("load provider: %w", err)
		}
	}

	setting, err := commissions.Lookup(ctx, &currencyCode, nil)
	if err == nil {
		return setting.Rate, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("lookup currency rate: %w", err)
	}

	setting, err = commissions.Lookup(ctx, nil, nil)
	if err == nil {
		return setting.Rate, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("lookup global rate: %w", err)
	}

	zap.L().Debug("no commission setting matched, using system default",
		zap.String("currency", currencyCode),
		zap.String("rate", s.defaultRate.String()))
	return s.defaultRate, nil
}

// Calculate splits amount at the given rate using currency precision.
// The commission is rounded first and the net derived by subtraction, so
// the two always sum back to the amount exactly.
func (s *CommissionService) Calculate(amount, rate decimal.Decimal, currency domain.Currency) (commission, net decimal.Decimal) {
	return domain.SplitCommission(amount, rate, currency.DecimalPlaces)
}

// SaveSetting validates and persists one waterfall entry. Out-of-range
// rates are rejected here, never at resolution time.
func (s *CommissionService) SaveSetting(ctx context.Context, setting *models.CommissionSetting) error {
	if setting.Rate.IsNegative() || setting.Rate.GreaterThan(s.maxRate) {
		return domain.ValidationError("commission rate must be between 0 and %s", s.maxRate)
	}
	if setting.CurrencyCode != nil {
		code := domain.NormalizeCode(*setting.CurrencyCode)
		if _, err := s.store.Currencies().Get(ctx, code); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.ValidationError("unknown currency %s", code)
			}
			return fmt.Errorf("check currency: %w", err)
		}
		setting.CurrencyCode = &code
	}
	if err := s.store.Commissions().Save(ctx, setting); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return domain.ValidationError("a commission setting for this scope already exists")
		}
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NotFoundError("commission setting", fmt.Sprint(setting.ID))
		}
		return fmt.Errorf("save commission setting: %w", err)
	}
	return nil
}

func (s *CommissionService) DeleteSetting(ctx context.Context, id int64) error {
	if err := s.store.Commissions().Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NotFoundError("commission setting", fmt.Sprint(id))
		}
		return fmt.Errorf("delete commission setting: %w", err)
	}
	return nil
}

func (s *CommissionService) ListSettings(ctx context.Context) ([]models.CommissionSetting, error) {
	return s.store.Commissions().List(ctx)
}
