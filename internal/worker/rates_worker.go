package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ucpg/payment-gateway/internal/observability"
	"github.com/ucpg/payment-gateway/internal/service"
)

// RatesWorker refreshes the exchange-rate series for all active pairs and
// prunes observations past the retention window.
type RatesWorker struct {
	exchange     *service.ExchangeService
	pollInterval time.Duration
	retention    time.Duration
	stopCh       chan struct{}
}

func NewRatesWorker(exchange *service.ExchangeService) *RatesWorker {
	return &RatesWorker{
		exchange:     exchange,
		pollInterval: 5 * time.Minute,
		retention:    7 * 24 * time.Hour,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets how often rates are refreshed.
func (w *RatesWorker) WithPollInterval(interval time.Duration) *RatesWorker {
	w.pollInterval = interval
	return w
}

// WithRetention sets how long old observations are kept.
func (w *RatesWorker) WithRetention(retention time.Duration) *RatesWorker {
	w.retention = retention
	return w
}

// Start runs the refresh loop until Stop is called or the context ends.
func (w *RatesWorker) Start(ctx context.Context) {
	zap.L().Info("rates worker starting",
		zap.Duration("poll_interval", w.pollInterval),
		zap.Duration("retention", w.retention))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("rates worker stopping: context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("rates worker stopping")
			return
		case <-ticker.C:
			w.refresh(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *RatesWorker) Stop() {
	close(w.stopCh)
}

func (w *RatesWorker) refresh(ctx context.Context) {
	updated, err := w.exchange.UpdateAllRates(ctx)
	if err != nil {
		observability.IncrementWorkerRun("rates", "error")
		zap.L().Error("rate refresh failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("rates", "ok")
	zap.L().Debug("rates refreshed", zap.Int("pairs", updated))

	if deleted, err := w.exchange.CleanupOldRates(ctx, w.retention); err != nil {
		zap.L().Error("rate cleanup failed", zap.Error(err))
	} else if deleted > 0 {
		zap.L().Debug("pruned old rates", zap.Int64("deleted", deleted))
	}
}

// RefreshOnce runs a single refresh immediately.
func (w *RatesWorker) RefreshOnce(ctx context.Context) (int, error) {
	return w.exchange.UpdateAllRates(ctx)
}

// Run starts the worker in a goroutine and returns its stop function.
func (w *RatesWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}
