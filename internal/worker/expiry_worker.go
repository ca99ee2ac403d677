// Package worker holds the background loops: expiring stale payments,
// refreshing exchange rates and draining the webhook queue. Each worker is
// a ticker loop stopped by context cancellation or an explicit Stop.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ucpg/payment-gateway/internal/observability"
	"github.com/ucpg/payment-gateway/internal/service"
)

// ExpiryWorker sweeps payments past their claim deadline into expired.
type ExpiryWorker struct {
	payments     *service.PaymentService
	pollInterval time.Duration
	batchSize    int
	stopCh       chan struct{}
}

func NewExpiryWorker(payments *service.PaymentService) *ExpiryWorker {
	return &ExpiryWorker{
		payments:     payments,
		pollInterval: time.Minute,
		batchSize:    100,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets how often the sweep runs.
func (w *ExpiryWorker) WithPollInterval(interval time.Duration) *ExpiryWorker {
	w.pollInterval = interval
	return w
}

// WithBatchSize caps how many transactions one sweep expires.
func (w *ExpiryWorker) WithBatchSize(size int) *ExpiryWorker {
	w.batchSize = size
	return w
}

// Start runs the sweep loop until Stop is called or the context ends.
func (w *ExpiryWorker) Start(ctx context.Context) {
	zap.L().Info("expiry worker starting",
		zap.Duration("poll_interval", w.pollInterval),
		zap.Int("batch_size", w.batchSize))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("expiry worker stopping: context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("expiry worker stopping")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *ExpiryWorker) Stop() {
	close(w.stopCh)
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	expired, err := w.payments.ExpireStale(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("expiry", "error")
		zap.L().Error("expiry sweep failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("expiry", "ok")
	if expired > 0 {
		zap.L().Info("expired stale payments", zap.Int("count", expired))
	}
}

// SweepOnce runs a single sweep immediately.
func (w *ExpiryWorker) SweepOnce(ctx context.Context) (int, error) {
	return w.payments.ExpireStale(ctx, w.batchSize)
}

// Run starts the worker in a goroutine and returns its stop function.
func (w *ExpiryWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}
