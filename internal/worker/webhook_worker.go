package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ucpg/payment-gateway/internal/observability"
	"github.com/ucpg/payment-gateway/internal/service"
)

// WebhookWorker drains the provider webhook queue, delivering everything
// due and re-scheduling failures on the backoff ladder.
type WebhookWorker struct {
	webhooks     *service.WebhookService
	pollInterval time.Duration
	batchSize    int
	stopCh       chan struct{}
}

func NewWebhookWorker(webhooks *service.WebhookService) *WebhookWorker {
	return &WebhookWorker{
		webhooks:     webhooks,
		pollInterval: 30 * time.Second,
		batchSize:    50,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets how often the queue is drained.
func (w *WebhookWorker) WithPollInterval(interval time.Duration) *WebhookWorker {
	w.pollInterval = interval
	return w
}

// WithBatchSize caps how many deliveries one drain attempts.
func (w *WebhookWorker) WithBatchSize(size int) *WebhookWorker {
	w.batchSize = size
	return w
}

// Start runs the drain loop until Stop is called or the context ends.
func (w *WebhookWorker) Start(ctx context.Context) {
	zap.L().Info("webhook worker starting",
		zap.Duration("poll_interval", w.pollInterval),
		zap.Int("batch_size", w.batchSize))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("webhook worker stopping: context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("webhook worker stopping")
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *WebhookWorker) Stop() {
	close(w.stopCh)
}

func (w *WebhookWorker) drain(ctx context.Context) {
	if err := w.webhooks.ProcessDue(ctx, w.batchSize); err != nil {
		observability.IncrementWorkerRun("webhooks", "error")
		zap.L().Error("webhook drain failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("webhooks", "ok")
}

// DrainOnce drains a single batch immediately.
func (w *WebhookWorker) DrainOnce(ctx context.Context) error {
	return w.webhooks.ProcessDue(ctx, w.batchSize)
}

// Run starts the worker in a goroutine and returns its stop function.
func (w *WebhookWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}
