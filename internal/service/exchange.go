package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ucpg/payment-gateway/internal/domain"
	"github.com/ucpg/payment-gateway/internal/models"
	"github.com/ucpg/payment-gateway/internal/rail"
	"github.com/ucpg/payment-gateway/internal/repository"
)

// ExchangeService resolves pair rates through a provider chain and keeps
// recent observations in Redis and the append-only rate series. Database
// observations newer than the freshness window short-circuit provider calls.
type ExchangeService struct {
	store     repository.Store
	cache     *redis.Client
	providers []rail.RateProvider
	freshness time.Duration
	cacheTTL  time.Duration
}

// NewExchangeService wires the provider chain in priority order. cache may
// be nil; the service then reads straight through to the database.
func NewExchangeService(store repository.Store, cache *redis.Client, providers []rail.RateProvider, freshness, cacheTTL time.Duration) *ExchangeService {
	if freshness <= 0 {
		freshness = 10 * time.Minute
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &ExchangeService{
		store:     store,
		cache:     cache,
		providers: providers,
		freshness: freshness,
		cacheTTL:  cacheTTL,
	}
}

func rateCacheKey(from, to string) string {
	return fmt.Sprintf("exchange_rate:%s:%s", from, to)
}

// GetRate returns the rate converting one unit of from into to.
func (s *ExchangeService) GetRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, rateCacheKey(from, to)).Result()
		if err == nil {
			if rate, parseErr := decimal.NewFromString(cached); parseErr == nil {
				return rate, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			zap.L().Warn("rate cache read failed", zap.Error(err))
		}
	}

	obs, err := s.store.Rates().Latest(ctx, from, to, time.Now().UTC().Add(-s.freshness))
	if err == nil {
		s.cacheRate(ctx, from, to, obs.Rate)
		return obs.Rate, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("load recent rate: %w", err)
	}

	rate, source, err := s.fetchFromProviders(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}

	if err := s.store.Rates().Insert(ctx, models.ExchangeRate{
		FromCurrency: from,
		ToCurrency:   to,
		Rate:         rate,
		Source:       source,
		Timestamp:    time.Now().UTC(),
	}); err != nil {
		return decimal.Zero, fmt.Errorf("persist rate observation: %w", err)
	}
	s.cacheRate(ctx, from, to, rate)
	return rate, nil
}

// Convert applies the pair rate to amount at the target currency precision.
func (s *ExchangeService) Convert(ctx context.Context, amount decimal.Decimal, from, to domain.Currency) (decimal.Decimal, decimal.Decimal, error) {
	rate, err := s.GetRate(ctx, from.Code, to.Code)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return domain.Convert(amount, rate, to.DecimalPlaces), rate, nil
}

// UpdateAllRates refreshes every active pair from the providers, a few
// pairs in flight at a time. Failures on individual pairs are logged and
// skipped; persistence errors stop the refresh.
func (s *ExchangeService) UpdateAllRates(ctx context.Context) (int, error) {
	currencies, err := s.store.Currencies().List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list currencies: %w", err)
	}

	type pair struct{ from, to string }
	var pairs []pair
	for _, from := range currencies {
		if !from.IsActive {
			continue
		}
		for _, to := range currencies {
			if !to.IsActive || from.Code == to.Code {
				continue
			}
			pairs = append(pairs, pair{from.Code, to.Code})
		}
	}

	var (
		mu      sync.Mutex
		updated int
	)
	now := time.Now().UTC()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, p := range pairs {
		p := p
		g.Go(func() error {
			rate, source, err := s.fetchFromProviders(gctx, p.from, p.to)
			if err != nil {
				zap.L().Warn("rate refresh failed",
					zap.String("from", p.from),
					zap.String("to", p.to),
					zap.Error(err))
				return nil
			}
			if err := s.store.Rates().Insert(gctx, models.ExchangeRate{
				FromCurrency: p.from,
				ToCurrency:   p.to,
				Rate:         rate,
				Source:       source,
				Timestamp:    now,
			}); err != nil {
				return fmt.Errorf("persist rate observation: %w", err)
			}
			s.cacheRate(gctx, p.from, p.to, rate)
			mu.Lock()
			updated++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return updated, err
	}
	zap.L().Info("exchange rates refreshed", zap.Int("updated", updated))
	return updated, nil
}

// CleanupOldRates prunes observations older than keep.
func (s *ExchangeService) CleanupOldRates(ctx context.Context, keep time.Duration) (int64, error) {
	return s.store.Rates().DeleteBefore(ctx, time.Now().UTC().Add(-keep))
}

func (s *ExchangeService) fetchFromProviders(ctx context.Context, from, to string) (decimal.Decimal, string, error) {
	var lastErr error
	for _, p := range s.providers {
		rate, err := p.FetchRate(ctx, from, to)
		if err != nil {
			lastErr = err
			zap.L().Debug("rate provider miss",
				zap.String("provider", p.Name()),
				zap.String("from", from),
				zap.String("to", to),
				zap.Error(err))
			continue
		}
		if !rate.IsPositive() {
			lastErr = fmt.Errorf("provider %s returned non-positive rate", p.Name())
			continue
		}
		return rate, p.Name(), nil
	}
	return decimal.Zero, "", domain.ExternalServiceError("exchange_rates",
		fmt.Errorf("no provider could quote %s/%s: %w", from, to, lastErr))
}

func (s *ExchangeService) cacheRate(ctx context.Context, from, to string, rate decimal.Decimal) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, rateCacheKey(from, to), rate.String(), s.cacheTTL).Err(); err != nil {
		zap.L().Warn("rate cache write failed", zap.Error(err))
	}
}
