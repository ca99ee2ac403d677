// Package app bootstraps the gateway: config, logging, storage, services,
// background workers and the HTTP server.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ucpg/payment-gateway/internal/api"
	"github.com/ucpg/payment-gateway/internal/api/middleware"
	"github.com/ucpg/payment-gateway/internal/config"
	"github.com/ucpg/payment-gateway/internal/db"
	"github.com/ucpg/payment-gateway/internal/observability"
	"github.com/ucpg/payment-gateway/internal/rail"
	"github.com/ucpg/payment-gateway/internal/repository/postgres"
	"github.com/ucpg/payment-gateway/internal/service"
	"github.com/ucpg/payment-gateway/internal/worker"
)

// Run bootstraps the HTTP server and background workers, blocking until
// shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.RunMigrations("file://migrations", cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL, 10)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	store := postgres.NewStore(pool)

	rateProviders := []rail.RateProvider{
		rail.NewBinanceProvider(cfg.BinanceBaseURL),
		rail.NewCoinGeckoProvider(cfg.CoinGeckoBaseURL, cfg.CoinGeckoAPIKey),
	}
	cardRail := rail.NewMockCardRail()
	cryptoRail := rail.NewMockCryptoRail()

	exchangeSvc := service.NewExchangeService(store, redisClient, rateProviders, cfg.RateFreshness, cfg.RateCacheTTL)
	commissionSvc := service.NewCommissionService(store, cfg.DefaultCommissionRate, cfg.MaxCommissionRate)
	escrowSvc := service.NewEscrowService(store)
	ledgerSvc := service.NewLedgerService(store)
	promoSvc := service.NewPromoService(store, cfg.FrontendURL, cfg.PromoCodeLength)
	webhookSvc := service.NewWebhookService(store, nil)
	payoutSvc := service.NewPayoutService(store, escrowSvc, cardRail, cryptoRail)
	paymentSvc := service.NewPaymentService(store, exchangeSvc, commissionSvc, escrowSvc,
		ledgerSvc, promoSvc, payoutSvc, webhookSvc, cardRail, cryptoRail, cfg.ClaimWindow)

	expiryWorker := worker.NewExpiryWorker(paymentSvc).
		WithPollInterval(cfg.ExpiryPollInterval).
		WithBatchSize(cfg.ExpiryBatchSize)
	ratesWorker := worker.NewRatesWorker(exchangeSvc).
		WithPollInterval(cfg.RatesPollInterval).
		WithRetention(cfg.RateRetention)
	webhookWorker := worker.NewWebhookWorker(webhookSvc).
		WithPollInterval(cfg.WebhookPollInterval).
		WithBatchSize(cfg.WebhookBatchSize)

	stopExpiry := expiryWorker.Run(ctx)
	stopRates := ratesWorker.Run(ctx)
	stopWebhooks := webhookWorker.Run(ctx)

	router := api.NewRouter(cfg, logger, store, pool, redisClient,
		paymentSvc, exchangeSvc, commissionSvc, webhookSvc)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopExpiry()
	stopRates()
	stopWebhooks()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
