// Package memory provides an in-process Store used by tests and local
// development. Guard semantics mirror the SQL store: every guarded update
// is a compare-and-set executed under a lock, and lookups return copies.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ucpg/payment-gateway/internal/domain"
	"github.com/ucpg/payment-gateway/internal/models"
	"github.com/ucpg/payment-gateway/internal/repository"
)

type Store struct {
	currencies *currencyRepo
	rates      *rateRepo
	commission *commissionRepo
	providers  *providerRepo
	txs        *transactionRepo
	logs       *logRepo
	escrow     *escrowRepo
	promos     *promoRepo
	payouts    *payoutRepo
	webhooks   *webhookRepo
}

// New returns an empty store pre-seeded with the static currency catalog.
func New() *Store {
	s := &Store{
		currencies: &currencyRepo{byCode: map[string]domain.Currency{}},
		rates:      &rateRepo{},
		commission: &commissionRepo{},
		providers:  &providerRepo{byID: map[uuid.UUID]models.Provider{}},
		txs:        &transactionRepo{byID: map[uuid.UUID]models.Transaction{}},
		logs:       &logRepo{},
		escrow:     &escrowRepo{byID: map[uuid.UUID]*models.EscrowAccount{}, byKey: map[string]uuid.UUID{}},
		promos:     &promoRepo{byCode: map[string]*models.PromoLink{}, byTx: map[uuid.UUID]string{}},
		payouts:    &payoutRepo{byID: map[uuid.UUID]models.PayoutRequest{}, byPromo: map[uuid.UUID]uuid.UUID{}},
		webhooks:   &webhookRepo{byID: map[uuid.UUID]*models.ProviderWebhook{}},
	}
	for _, c := range domain.SeedCurrencies {
		s.currencies.byCode[c.Code] = c
	}
	return s
}

func (s *Store) Currencies() repository.Currencies           { return s.currencies }
func (s *Store) Rates() repository.Rates                     { return s.rates }
func (s *Store) Commissions() repository.Commissions         { return s.commission }
func (s *Store) Providers() repository.Providers             { return s.providers }
func (s *Store) Transactions() repository.Transactions       { return s.txs }
func (s *Store) TransactionLogs() repository.TransactionLogs { return s.logs }
func (s *Store) Escrow() repository.EscrowAccounts           { return s.escrow }
func (s *Store) PromoLinks() repository.PromoLinks           { return s.promos }
func (s *Store) Payouts() repository.Payouts                 { return s.payouts }
func (s *Store) Webhooks() repository.Webhooks               { return s.webhooks }

type currencyRepo struct {
	mu     sync.RWMutex
	byCode map[string]domain.Currency
}

func (r *currencyRepo) Get(_ context.Context, code string) (domain.Currency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byCode[code]
	if !ok {
		return domain.Currency{}, repository.ErrNotFound
	}
	return c, nil
}

func (r *currencyRepo) List(_ context.Context) ([]domain.Currency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Currency, 0, len(r.byCode))
	for _, c := range r.byCode {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *currencyRepo) Upsert(_ context.Context, c domain.Currency) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byCode[c.Code] = c
	return nil
}

type rateRepo struct {
	mu     sync.RWMutex
	series []models.ExchangeRate
	nextID int64
}

func (r *rateRepo) Insert(_ context.Context, rate models.ExchangeRate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	rate.ID = r.nextID
	r.series = append(r.series, rate)
	return nil
}

func (r *rateRepo) Latest(_ context.Context, from, to string, notBefore time.Time) (models.ExchangeRate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.series) - 1; i >= 0; i-- {
		obs := r.series[i]
		if obs.FromCurrency == from && obs.ToCurrency == to && !obs.Timestamp.Before(notBefore) {
			return obs, nil
		}
	}
	return models.ExchangeRate{}, repository.ErrNotFound
}

func (r *rateRepo) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.series[:0]
	var removed int64
	for _, obs := range r.series {
		if obs.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, obs)
	}
	r.series = kept
	return removed, nil
}

type commissionRepo struct {
	mu       sync.RWMutex
	settings []models.CommissionSetting
	nextID   int64
}

func scopeMatches(s models.CommissionSetting, currencyCode *string, providerID *uuid.UUID) bool {
	if (s.CurrencyCode == nil) != (currencyCode == nil) {
		return false
	}
	if (s.ProviderID == nil) != (providerID == nil) {
		return false
	}
	if currencyCode != nil && *s.CurrencyCode != *currencyCode {
		return false
	}
	if providerID != nil && *s.ProviderID != *providerID {
		return false
	}
	return true
}

func (r *commissionRepo) Lookup(_ context.Context, currencyCode *string, providerID *uuid.UUID) (models.CommissionSetting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.settings {
		if s.IsActive && scopeMatches(s, currencyCode, providerID) {
			return s, nil
		}
	}
	return models.CommissionSetting{}, repository.ErrNotFound
}

func (r *commissionRepo) Save(_ context.Context, setting *models.CommissionSetting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if setting.ID != 0 {
		for i, s := range r.settings {
			if s.ID == setting.ID {
				setting.CreatedAt = s.CreatedAt
				setting.UpdatedAt = now
				r.settings[i] = *setting
				return nil
			}
		}
		return repository.ErrNotFound
	}
	for _, s := range r.settings {
		if scopeMatches(s, setting.CurrencyCode, setting.ProviderID) {
			return repository.ErrDuplicate
		}
	}
	r.nextID++
	setting.ID = r.nextID
	setting.CreatedAt = now
	setting.UpdatedAt = now
	r.settings = append(r.settings, *setting)
	return nil
}

func (r *commissionRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.settings {
		if s.ID == id {
			r.settings = append(r.settings[:i], r.settings[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *commissionRepo) List(_ context.Context) ([]models.CommissionSetting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.CommissionSetting, len(r.settings))
	copy(out, r.settings)
	return out, nil
}

type providerRepo struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]models.Provider
}

func (r *providerRepo) Get(_ context.Context, id uuid.UUID) (models.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return models.Provider{}, repository.ErrNotFound
	}
	return p, nil
}

func (r *providerRepo) GetByAPIKey(_ context.Context, apiKey string) (models.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.byID {
		if p.APIKey == apiKey {
			return p, nil
		}
	}
	return models.Provider{}, repository.ErrNotFound
}

func (r *providerRepo) Create(_ context.Context, p models.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[p.ID]; exists {
		return repository.ErrDuplicate
	}
	r.byID[p.ID] = p
	return nil
}

type transactionRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]models.Transaction
}

func (r *transactionRepo) Create(_ context.Context, tx models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[tx.ID]; exists {
		return repository.ErrDuplicate
	}
	r.byID[tx.ID] = tx
	return nil
}

func (r *transactionRepo) Get(_ context.Context, id uuid.UUID) (models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.byID[id]
	if !ok {
		return models.Transaction{}, repository.ErrNotFound
	}
	return tx, nil
}

func (r *transactionRepo) UpdateStatusGuarded(_ context.Context, id uuid.UUID, expect, next string, completedAt *time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.byID[id]
	if !ok || tx.Status != expect {
		return 0, nil
	}
	tx.Status = next
	tx.UpdatedAt = time.Now().UTC()
	if completedAt != nil {
		tx.CompletedAt = completedAt
	}
	r.byID[id] = tx
	return 1, nil
}

func (r *transactionRepo) mutate(id uuid.UUID, fn func(*models.Transaction)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&tx)
	tx.UpdatedAt = time.Now().UTC()
	r.byID[id] = tx
	return nil
}

func (r *transactionRepo) SetPaymentReference(_ context.Context, id uuid.UUID, method, reference string) error {
	return r.mutate(id, func(tx *models.Transaction) {
		tx.PaymentMethod = method
		tx.PaymentReference = reference
	})
}

func (r *transactionRepo) SetCardIntent(_ context.Context, id uuid.UUID, intentID string) error {
	return r.mutate(id, func(tx *models.Transaction) { tx.CardIntentID = intentID })
}

func (r *transactionRepo) SetCryptoDeposit(_ context.Context, id uuid.UUID, address, txHash string) error {
	return r.mutate(id, func(tx *models.Transaction) {
		if address != "" {
			tx.CryptoDepositAddress = address
		}
		if txHash != "" {
			tx.CryptoTxHash = txHash
		}
	})
}

func (r *transactionRepo) SetEscrowAccount(_ context.Context, id uuid.UUID, escrowID uuid.UUID) error {
	return r.mutate(id, func(tx *models.Transaction) { tx.EscrowAccountID = &escrowID })
}

func (r *transactionRepo) ListExpiredBefore(_ context.Context, statuses []string, asOf time.Time, limit int) ([]models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	allowed := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		allowed[s] = struct{}{}
	}
	var out []models.Transaction
	for _, tx := range r.byID {
		if _, ok := allowed[tx.Status]; !ok {
			continue
		}
		if tx.ExpiresAt.After(asOf) {
			continue
		}
		out = append(out, tx)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

type logRepo struct {
	mu      sync.Mutex
	entries []models.TransactionLog
	nextID  int64
}

func (r *logRepo) Append(_ context.Context, entry models.TransactionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	entry.ID = r.nextID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *logRepo) ListByTransaction(_ context.Context, txID uuid.UUID) ([]models.TransactionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.TransactionLog
	for _, e := range r.entries {
		if e.TransactionID == txID {
			out = append(out, e)
		}
	}
	return out, nil
}

type escrowRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.EscrowAccount
	// byKey maps railType+"/"+currency to the account id.
	byKey map[string]uuid.UUID
}

func escrowKey(railType, currency string) string { return railType + "/" + currency }

func (r *escrowRepo) GetOrCreate(_ context.Context, railType, currency string) (models.EscrowAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byKey[escrowKey(railType, currency)]; ok {
		return *r.byID[id], nil
	}
	now := time.Now().UTC()
	acct := &models.EscrowAccount{
		ID:               uuid.New(),
		RailType:         railType,
		Currency:         currency,
		TotalBalance:     decimal.Zero,
		AvailableBalance: decimal.Zero,
		ReservedBalance:  decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.byID[acct.ID] = acct
	r.byKey[escrowKey(railType, currency)] = acct.ID
	return *acct, nil
}

func (r *escrowRepo) Get(_ context.Context, id uuid.UUID) (models.EscrowAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.byID[id]
	if !ok {
		return models.EscrowAccount{}, repository.ErrNotFound
	}
	return *acct, nil
}

func (r *escrowRepo) Deposit(_ context.Context, id uuid.UUID, amount decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	acct.TotalBalance = acct.TotalBalance.Add(amount)
	acct.AvailableBalance = acct.AvailableBalance.Add(amount)
	acct.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *escrowRepo) Reserve(_ context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.byID[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if acct.AvailableBalance.LessThan(amount) {
		return 0, nil
	}
	acct.AvailableBalance = acct.AvailableBalance.Sub(amount)
	acct.ReservedBalance = acct.ReservedBalance.Add(amount)
	acct.UpdatedAt = time.Now().UTC()
	return 1, nil
}

func (r *escrowRepo) Release(_ context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.byID[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if acct.ReservedBalance.LessThan(amount) {
		return 0, nil
	}
	acct.ReservedBalance = acct.ReservedBalance.Sub(amount)
	acct.TotalBalance = acct.TotalBalance.Sub(amount)
	acct.UpdatedAt = time.Now().UTC()
	return 1, nil
}

func (r *escrowRepo) Return(_ context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.byID[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if acct.ReservedBalance.LessThan(amount) {
		return 0, nil
	}
	acct.ReservedBalance = acct.ReservedBalance.Sub(amount)
	acct.AvailableBalance = acct.AvailableBalance.Add(amount)
	acct.UpdatedAt = time.Now().UTC()
	return 1, nil
}

type promoRepo struct {
	mu     sync.Mutex
	byCode map[string]*models.PromoLink
	byTx   map[uuid.UUID]string
}

func (r *promoRepo) Create(_ context.Context, link models.PromoLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byCode[link.Code]; exists {
		return repository.ErrDuplicate
	}
	if _, exists := r.byTx[link.TransactionID]; exists {
		return repository.ErrDuplicate
	}
	stored := link
	r.byCode[link.Code] = &stored
	r.byTx[link.TransactionID] = link.Code
	return nil
}

func (r *promoRepo) Get(_ context.Context, id uuid.UUID) (models.PromoLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, link := range r.byCode {
		if link.ID == id {
			return *link, nil
		}
	}
	return models.PromoLink{}, repository.ErrNotFound
}

func (r *promoRepo) GetByCode(_ context.Context, code string) (models.PromoLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.byCode[code]
	if !ok {
		return models.PromoLink{}, repository.ErrNotFound
	}
	return *link, nil
}

func (r *promoRepo) GetByTransaction(_ context.Context, txID uuid.UUID) (models.PromoLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.byTx[txID]
	if !ok {
		return models.PromoLink{}, repository.ErrNotFound
	}
	return *r.byCode[code], nil
}

func (r *promoRepo) CodeExists(_ context.Context, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byCode[code]
	return ok, nil
}

func (r *promoRepo) Claim(_ context.Context, code string, recipient models.Recipient, origin string, usedAt time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.byCode[code]
	if !ok || link.IsUsed {
		return 0, nil
	}
	link.IsUsed = true
	link.UsedAt = &usedAt
	link.Recipient = recipient
	link.Origin = origin
	return 1, nil
}

func (r *promoRepo) Unclaim(_ context.Context, code string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.byCode[code]
	if !ok || !link.IsUsed {
		return 0, nil
	}
	link.IsUsed = false
	link.UsedAt = nil
	link.Recipient = models.Recipient{}
	link.Origin = ""
	return 1, nil
}

type payoutRepo struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]models.PayoutRequest
	byPromo map[uuid.UUID]uuid.UUID
}

func (r *payoutRepo) Create(_ context.Context, req models.PayoutRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[req.ID]; exists {
		return repository.ErrDuplicate
	}
	if _, exists := r.byPromo[req.PromoLinkID]; exists {
		return repository.ErrDuplicate
	}
	r.byID[req.ID] = req
	r.byPromo[req.PromoLinkID] = req.ID
	return nil
}

func (r *payoutRepo) Get(_ context.Context, id uuid.UUID) (models.PayoutRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.byID[id]
	if !ok {
		return models.PayoutRequest{}, repository.ErrNotFound
	}
	return req, nil
}

func (r *payoutRepo) GetByPromoLink(_ context.Context, promoLinkID uuid.UUID) (models.PayoutRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byPromo[promoLinkID]
	if !ok {
		return models.PayoutRequest{}, repository.ErrNotFound
	}
	return r.byID[id], nil
}

func (r *payoutRepo) UpdateStatusGuarded(_ context.Context, id uuid.UUID, expect, next string, result repository.PayoutResult) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.byID[id]
	if !ok || req.Status != expect {
		return 0, nil
	}
	req.Status = next
	if result.ExternalID != "" {
		req.ExternalID = result.ExternalID
	}
	if !result.Fee.IsZero() {
		req.Fee = result.Fee
	}
	if result.FailureReason != "" {
		req.FailureReason = result.FailureReason
	}
	if result.ProcessedAt != nil {
		req.ProcessedAt = result.ProcessedAt
	}
	if result.CompletedAt != nil {
		req.CompletedAt = result.CompletedAt
	}
	r.byID[id] = req
	return 1, nil
}

func (r *payoutRepo) Retry(_ context.Context, id uuid.UUID, method string, recipient models.Recipient) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.byID[id]
	if !ok || req.Status != domain.PayoutStatusFailed {
		return 0, nil
	}
	req.Status = domain.PayoutStatusPending
	req.Method = method
	req.Recipient = recipient
	req.FailureReason = ""
	req.ExternalID = ""
	req.ProcessedAt = nil
	r.byID[id] = req
	return 1, nil
}

type webhookRepo struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*models.ProviderWebhook
	order []uuid.UUID
}

func (r *webhookRepo) Enqueue(_ context.Context, wh models.ProviderWebhook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[wh.ID]; exists {
		return repository.ErrDuplicate
	}
	stored := wh
	r.byID[wh.ID] = &stored
	r.order = append(r.order, wh.ID)
	return nil
}

func (r *webhookRepo) Due(_ context.Context, now time.Time, maxAttempts, limit int) ([]models.ProviderWebhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ProviderWebhook
	for _, id := range r.order {
		wh := r.byID[id]
		if wh.Delivered || wh.DeliveryAttempts >= maxAttempts {
			continue
		}
		if wh.NextRetry != nil && wh.NextRetry.After(now) {
			continue
		}
		out = append(out, *wh)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *webhookRepo) MarkDelivered(_ context.Context, id uuid.UUID, responseCode int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	wh, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	wh.Delivered = true
	wh.ResponseCode = &responseCode
	wh.DeliveredAt = &at
	wh.LastAttempt = &at
	wh.DeliveryAttempts++
	return nil
}

func (r *webhookRepo) MarkFailed(_ context.Context, id uuid.UUID, errMsg string, responseCode *int, attemptAt time.Time, nextRetry *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	wh, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	wh.DeliveryAttempts++
	wh.ErrorMessage = errMsg
	wh.ResponseCode = responseCode
	wh.LastAttempt = &attemptAt
	wh.NextRetry = nextRetry
	return nil
}

func (r *webhookRepo) ListExhausted(_ context.Context, maxAttempts, limit int) ([]models.ProviderWebhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ProviderWebhook
	for _, id := range r.order {
		wh := r.byID[id]
		if !wh.Delivered && wh.DeliveryAttempts >= maxAttempts {
			out = append(out, *wh)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *webhookRepo) CountExhausted(_ context.Context, maxAttempts int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, wh := range r.byID {
		if !wh.Delivered && wh.DeliveryAttempts >= maxAttempts {
			n++
		}
	}
	return n, nil
}
