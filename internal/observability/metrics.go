package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	transactionCounter    *prometheus.CounterVec
	claimCounter          *prometheus.CounterVec
	payoutCounter         *prometheus.CounterVec
	webhookCounter        *prometheus.CounterVec
	webhookExhaustedGauge prometheus.Gauge
	escrowConflictCounter *prometheus.CounterVec
	workerRunCounter      *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		transactionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_transactions_total",
			Help: "Transaction status transitions",
		}, []string{"status"})

		claimCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promo_claims_total",
			Help: "Promo claim attempts by outcome",
		}, []string{"outcome"})

		payoutCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payouts_total",
			Help: "Payout dispatch outcomes by method",
		}, []string{"method", "outcome"})

		webhookCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Outbound webhook delivery outcomes",
		}, []string{"outcome"})

		webhookExhaustedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webhook_exhausted_queue_size",
			Help: "Undelivered webhooks that ran out of retries",
		})

		escrowConflictCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_balance_conflicts_total",
			Help: "Escrow operations rejected by balance guards",
		}, []string{"operation"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			transactionCounter,
			claimCounter,
			payoutCounter,
			webhookCounter,
			webhookExhaustedGauge,
			escrowConflictCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementTransactionStatus(status string) {
	if transactionCounter == nil {
		return
	}
	transactionCounter.WithLabelValues(status).Inc()
}

func IncrementClaim(outcome string) {
	if claimCounter == nil {
		return
	}
	claimCounter.WithLabelValues(outcome).Inc()
}

func IncrementPayout(method, outcome string) {
	if payoutCounter == nil {
		return
	}
	payoutCounter.WithLabelValues(method, outcome).Inc()
}

func IncrementWebhookDelivery(outcome string) {
	if webhookCounter == nil {
		return
	}
	webhookCounter.WithLabelValues(outcome).Inc()
}

func SetWebhookExhausted(n float64) {
	if webhookExhaustedGauge == nil {
		return
	}
	webhookExhaustedGauge.Set(n)
}

func IncrementEscrowConflict(operation string) {
	if escrowConflictCounter == nil {
		return
	}
	escrowConflictCounter.WithLabelValues(operation).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
