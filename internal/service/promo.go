package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ucpg/payment-gateway/internal/domain"
	"github.com/ucpg/payment-gateway/internal/models"
	"github.com/ucpg/payment-gateway/internal/repository"
)

// promoAlphabet excludes visually ambiguous characters (0, O, 1, I).
const promoAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const maxCodeAttempts = 10

// PromoService issues and redeems one-time claim codes. A code is bound
// one-to-one to a transaction and can be claimed at most once.
type PromoService struct {
	store       repository.Store
	frontendURL string
	codeLength  int
}

func NewPromoService(store repository.Store, frontendURL string, codeLength int) *PromoService {
	if codeLength <= 0 {
		codeLength = 12
	}
	return &PromoService{
		store:       store,
		frontendURL: frontendURL,
		codeLength:  codeLength,
	}
}

// Issue creates the claim link for a transaction. The link inherits the
// transaction's expiry. Code generation retries until collision-free.
func (s *PromoService) Issue(ctx context.Context, tx models.Transaction) (models.PromoLink, error) {
	var code string
	for attempt := 0; ; attempt++ {
		if attempt >= maxCodeAttempts {
			return models.PromoLink{}, fmt.Errorf("could not generate a unique promo code after %d attempts", maxCodeAttempts)
		}
		candidate, err := s.generateCode()
		if err != nil {
			return models.PromoLink{}, err
		}
		exists, err := s.store.PromoLinks().CodeExists(ctx, candidate)
		if err != nil {
			return models.PromoLink{}, fmt.Errorf("check promo code: %w", err)
		}
		if !exists {
			code = candidate
			break
		}
	}

	link := models.PromoLink{
		ID:            uuid.New(),
		TransactionID: tx.ID,
		Code:          code,
		LinkURL:       fmt.Sprintf("%s/claim/%s", s.frontendURL, code),
		CreatedAt:     time.Now().UTC(),
		ExpiresAt:     tx.ExpiresAt,
	}
	if err := s.store.PromoLinks().Create(ctx, link); err != nil {
		return models.PromoLink{}, fmt.Errorf("create promo link: %w", err)
	}

	zap.L().Info("promo link issued",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("code", code))
	return link, nil
}

func (s *PromoService) GetByCode(ctx context.Context, code string) (models.PromoLink, error) {
	link, err := s.store.PromoLinks().GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.PromoLink{}, domain.NotFoundError("promo code", code)
		}
		return models.PromoLink{}, err
	}
	return link, nil
}

func (s *PromoService) GetByTransaction(ctx context.Context, txID uuid.UUID) (models.PromoLink, error) {
	link, err := s.store.PromoLinks().GetByTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.PromoLink{}, domain.NotFoundError("promo link for transaction", txID.String())
		}
		return models.PromoLink{}, err
	}
	return link, nil
}

// Validate checks whether a code can currently be claimed. txStatus is the
// owning transaction's status.
func (s *PromoService) Validate(link models.PromoLink, txStatus string, now time.Time) error {
	if link.IsUsed {
		return domain.AlreadyUsedError()
	}
	if link.IsExpired(now) {
		return domain.ExpiredError()
	}
	if normalizeStatus(txStatus) != domain.TxStatusReadyForClaim {
		return domain.StateConflictError(txStatus, domain.TxStatusClaimProcessing)
	}
	return nil
}

// Claim flips is_used exactly once. Losing a race against another claimant
// surfaces as AlreadyUsedError.
func (s *PromoService) Claim(ctx context.Context, code string, recipient models.Recipient, origin string) error {
	rows, err := s.store.PromoLinks().Claim(ctx, code, recipient, origin, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("claim promo link: %w", err)
	}
	if rows == 0 {
		return domain.AlreadyUsedError()
	}
	return nil
}

// Unclaim is the compensating rollback after a failed payout. The caller
// must verify no payout reached terminal success before resetting the code.
func (s *PromoService) Unclaim(ctx context.Context, code string) error {
	rows, err := s.store.PromoLinks().Unclaim(ctx, code)
	if err != nil {
		return fmt.Errorf("unclaim promo link: %w", err)
	}
	if rows == 0 {
		return domain.StateConflictError("unused", "unclaimed")
	}
	zap.L().Warn("promo link claim rolled back", zap.String("code", code))
	return nil
}

func (s *PromoService) generateCode() (string, error) {
	buf := make([]byte, s.codeLength)
	max := big.NewInt(int64(len(promoAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate promo code: %w", err)
		}
		buf[i] = promoAlphabet[n.Int64()]
	}
	return string(buf), nil
}
