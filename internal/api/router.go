package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"

	"github.com/ucpg/payment-gateway/internal/api/handler"
	"github.com/ucpg/payment-gateway/internal/api/middleware"
	"github.com/ucpg/payment-gateway/internal/api/spec"
	"github.com/ucpg/payment-gateway/internal/config"
	"github.com/ucpg/payment-gateway/internal/repository"
	"github.com/ucpg/payment-gateway/internal/service"
)

// Router wires the HTTP surface: provider endpoints behind API keys, the
// anonymous claim flow behind IP rate limits, and the operator surface
// behind admin JWTs.
type Router struct {
	cfg    *config.Config
	logger *zap.Logger
	store  repository.Store
	db     handler.Pinger
	redis  *redis.Client

	payments   *service.PaymentService
	exchange   *service.ExchangeService
	commission *service.CommissionService
	webhooks   *service.WebhookService
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	store repository.Store,
	db handler.Pinger,
	redisClient *redis.Client,
	payments *service.PaymentService,
	exchange *service.ExchangeService,
	commission *service.CommissionService,
	webhooks *service.WebhookService,
) *Router {
	return &Router{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		db:         db,
		redis:      redisClient,
		payments:   payments,
		exchange:   exchange,
		commission: commission,
		webhooks:   webhooks,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	paymentHandler := handler.NewPaymentHandler(api.payments)
	claimHandler := handler.NewClaimHandler(api.payments)
	currencyHandler := handler.NewCurrencyHandler(api.store, api.exchange)
	adminHandler := handler.NewAdminHandler(api.payments, api.commission, api.webhooks)

	// Operational endpoints
	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/docs/openapi.yaml")))

	// Public routes: the claim code is the only credential.
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))

		r.Get("/v1/currencies", currencyHandler.List)
		r.Get("/v1/rates/{from}/{to}", currencyHandler.Rate)
		r.Get("/v1/claims/{code}", claimHandler.Info)
		r.Post("/v1/claims/{code}", claimHandler.Claim)
	})

	// Provider routes behind API-key auth.
	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuthMiddleware(api.store.Providers()))
		r.Use(middleware.ProviderRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Post("/v1/payments", paymentHandler.Create)
		r.Get("/v1/payments/{id}", paymentHandler.Get)
		r.Get("/v1/payments/{id}/history", paymentHandler.History)
		r.Post("/v1/payments/{id}/cancel", paymentHandler.Cancel)
		r.Post("/v1/payments/{id}/card-intent", paymentHandler.CreateCardIntent)
		r.Post("/v1/payments/{id}/confirm", paymentHandler.ConfirmCard)
		r.Post("/v1/payments/{id}/deposit-address", paymentHandler.DepositAddress)
		r.Post("/v1/payments/{id}/check-deposit", paymentHandler.CheckDeposit)
	})

	// Operator routes behind admin JWTs.
	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminAuthMiddleware)
		r.Use(middleware.RequireRole("admin"))

		r.Get("/v1/admin/commissions", adminHandler.ListCommissions)
		r.Post("/v1/admin/commissions", adminHandler.SaveCommission)
		r.Delete("/v1/admin/commissions/{id}", adminHandler.DeleteCommission)
		r.Post("/v1/admin/payouts/{id}/complete", adminHandler.CompletePayout)
		r.Post("/v1/admin/payouts/{id}/fail", adminHandler.FailPayout)
		r.Post("/v1/admin/payments/{id}/refund", adminHandler.RefundClaim)
		r.Get("/v1/admin/webhooks/exhausted", adminHandler.ExhaustedWebhooks)
	})

	return r
}
