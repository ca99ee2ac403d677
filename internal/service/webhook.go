package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ucpg/payment-gateway/internal/domain"
	"github.com/ucpg/payment-gateway/internal/models"
	"github.com/ucpg/payment-gateway/internal/observability"
	"github.com/ucpg/payment-gateway/internal/repository"
)

// retryOffsets are delays from the first failed attempt. Failure n
// schedules the next attempt at offset n; after the last offset the item
// stays undelivered permanently.
var retryOffsets = [...]time.Duration{
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	time.Hour,
	2 * time.Hour,
}

// MaxWebhookAttempts is the initial attempt plus one retry per offset.
const MaxWebhookAttempts = len(retryOffsets) + 1

// Doer abstracts the HTTP client so tests can intercept deliveries.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookService owns outbound provider notifications: enqueue on
// transaction events, signed delivery, and the fixed retry schedule.
type WebhookService struct {
	store  repository.Store
	client Doer
}

func NewWebhookService(store repository.Store, client Doer) *WebhookService {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &WebhookService{store: store, client: client}
}

type webhookPayload struct {
	Event         string `json:"event"`
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	Timestamp     string `json:"timestamp"`
	Signature     string `json:"signature"`
}

// Enqueue snapshots the event payload for later delivery. Providers
// without a webhook URL are skipped.
func (s *WebhookService) Enqueue(ctx context.Context, provider models.Provider, tx models.Transaction, event string) error {
	if provider.WebhookURL == "" {
		return nil
	}

	createdAt := time.Now().UTC()
	payload := webhookPayload{
		Event:         event,
		TransactionID: tx.ID.String(),
		Amount:        tx.ConvertedAmount.String(),
		Currency:      tx.ConvertedCurrency,
		Status:        tx.Status,
		Timestamp:     createdAt.Format(time.RFC3339),
		Signature:     sign(provider.APISecret, event, tx.ID.String(), createdAt),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	if err := s.store.Webhooks().Enqueue(ctx, models.ProviderWebhook{
		ID:            uuid.New(),
		ProviderID:    provider.ID,
		TransactionID: tx.ID,
		Event:         event,
		Payload:       body,
		CreatedAt:     createdAt,
	}); err != nil {
		return fmt.Errorf("enqueue webhook: %w", err)
	}
	return nil
}

// ProcessDue drains one batch of deliverable webhooks. Per-item failures
// reschedule the item; they never abort the batch.
func (s *WebhookService) ProcessDue(ctx context.Context, limit int) error {
	due, err := s.store.Webhooks().Due(ctx, time.Now().UTC(), MaxWebhookAttempts, limit)
	if err != nil {
		return fmt.Errorf("list due webhooks: %w", err)
	}
	for _, wh := range due {
		if err := s.deliver(ctx, wh); err != nil {
			zap.L().Warn("webhook delivery failed",
				zap.String("webhook_id", wh.ID.String()),
				zap.String("event", wh.Event),
				zap.Int("attempt", wh.DeliveryAttempts+1),
				zap.Error(err))
		}
	}

	exhausted, err := s.store.Webhooks().CountExhausted(ctx, MaxWebhookAttempts)
	if err != nil {
		return fmt.Errorf("count exhausted webhooks: %w", err)
	}
	observability.SetWebhookExhausted(float64(exhausted))
	return nil
}

// ListExhausted surfaces permanently undelivered items for operators.
func (s *WebhookService) ListExhausted(ctx context.Context, limit int) ([]models.ProviderWebhook, error) {
	return s.store.Webhooks().ListExhausted(ctx, MaxWebhookAttempts, limit)
}

func (s *WebhookService) deliver(ctx context.Context, wh models.ProviderWebhook) error {
	provider, err := s.store.Providers().Get(ctx, wh.ProviderID)
	if err != nil {
		return s.recordFailure(ctx, wh, fmt.Errorf("load provider: %w", err), nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.WebhookURL, bytes.NewReader(wh.Payload))
	if err != nil {
		return s.recordFailure(ctx, wh, fmt.Errorf("build request: %w", err), nil)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", sign(provider.APISecret, wh.Event, wh.TransactionID.String(), wh.CreatedAt))

	resp, err := s.client.Do(req)
	if err != nil {
		return s.recordFailure(ctx, wh, err, nil)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		code := resp.StatusCode
		return s.recordFailure(ctx, wh, fmt.Errorf("endpoint returned %d", code), &code)
	}

	if err := s.store.Webhooks().MarkDelivered(ctx, wh.ID, resp.StatusCode, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark webhook delivered: %w", err)
	}
	observability.IncrementWebhookDelivery("delivered")
	zap.L().Info("webhook delivered",
		zap.String("webhook_id", wh.ID.String()),
		zap.String("event", wh.Event),
		zap.Int("attempts", wh.DeliveryAttempts+1))
	return nil
}

func (s *WebhookService) recordFailure(ctx context.Context, wh models.ProviderWebhook, cause error, responseCode *int) error {
	attemptAt := time.Now().UTC()
	next := nextRetryAt(wh.DeliveryAttempts+1, attemptAt)
	if err := s.store.Webhooks().MarkFailed(ctx, wh.ID, cause.Error(), responseCode, attemptAt, next); err != nil {
		return errors.Join(cause, fmt.Errorf("mark webhook failed: %w", err))
	}
	if next == nil {
		observability.IncrementWebhookDelivery("exhausted")
	} else {
		observability.IncrementWebhookDelivery("failed")
	}
	return domain.ExternalServiceError("webhook_sink", cause)
}

// nextRetryAt returns when the attempt after failure number n should run,
// or nil when retries are exhausted. Steps are the deltas between the
// cumulative offsets, so an on-schedule item retries at {5,15,30,60,120}
// minutes after its first failure.
func nextRetryAt(failures int, attemptAt time.Time) *time.Time {
	if failures < 1 || failures > len(retryOffsets) {
		return nil
	}
	step := retryOffsets[failures-1]
	if failures > 1 {
		step -= retryOffsets[failures-2]
	}
	next := attemptAt.Add(step)
	return &next
}

// sign computes the webhook signature over event:transaction_id:created_at.
func sign(secret, event, transactionID string, createdAt time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%s:%s", event, transactionID, createdAt.Format(time.RFC3339))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
