package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ucpg/payment-gateway/internal/domain"
	"github.com/ucpg/payment-gateway/internal/models"
)

func issueTestLink(t *testing.T, env *testEnv) (models.Transaction, models.PromoLink) {
	t.Helper()
	tx := newLedgerTransaction(t, env.ledger)
	link, err := env.promo.Issue(context.Background(), tx)
	require.NoError(t, err)
	return tx, link
}

func TestPromoIssueShape(t *testing.T) {
	env := newTestEnv(t, 0)
	tx, link := issueTestLink(t, env)

	require.Len(t, link.Code, 10)
	for _, c := range link.Code {
		require.True(t, strings.ContainsRune(promoAlphabet, c), string(c))
	}
	require.Equal(t, tx.ID, link.TransactionID)
	require.Equal(t, "https://pay.test/claim/"+link.Code, link.LinkURL)
	require.Equal(t, tx.ExpiresAt, link.ExpiresAt)
	require.False(t, link.IsUsed)
}

func TestPromoIssueOnePerTransaction(t *testing.T) {
	env := newTestEnv(t, 0)
	tx, _ := issueTestLink(t, env)

	_, err := env.promo.Issue(context.Background(), tx)
	require.Error(t, err)
}

func TestPromoValidate(t *testing.T) {
	env := newTestEnv(t, 0)
	_, link := issueTestLink(t, env)
	now := time.Now().UTC()

	err := env.promo.Validate(link, domain.TxStatusReadyForClaim, now)
	require.NoError(t, err)

	err = env.promo.Validate(link, domain.TxStatusPending, now)
	require.ErrorIs(t, err, domain.ErrStateConflict)

	err = env.promo.Validate(link, domain.TxStatusReadyForClaim, link.ExpiresAt.Add(time.Second))
	require.ErrorIs(t, err, domain.ErrExpired)

	link.IsUsed = true
	err = env.promo.Validate(link, domain.TxStatusReadyForClaim, now)
	require.ErrorIs(t, err, domain.ErrAlreadyUsed)
}

func TestPromoClaimExactlyOnce(t *testing.T) {
	env := newTestEnv(t, 0)
	_, link := issueTestLink(t, env)
	ctx := context.Background()

	var (
		wg         sync.WaitGroup
		wins       int64
		unexpected int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := env.promo.Claim(ctx, link.Code, models.Recipient{Email: "w@example.com"}, "10.0.0.1")
			switch {
			case err == nil:
				atomic.AddInt64(&wins, 1)
			case !errors.Is(err, domain.ErrAlreadyUsed):
				atomic.AddInt64(&unexpected, 1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, wins)
	require.Zero(t, unexpected)

	got, err := env.promo.GetByCode(ctx, link.Code)
	require.NoError(t, err)
	require.True(t, got.IsUsed)
	require.NotNil(t, got.UsedAt)
	require.Equal(t, "w@example.com", got.Recipient.Email)
}

func TestPromoUnclaimResetsLink(t *testing.T) {
	env := newTestEnv(t, 0)
	_, link := issueTestLink(t, env)
	ctx := context.Background()

	require.NoError(t, env.promo.Claim(ctx, link.Code, usdtRecipient(), "10.0.0.1"))
	require.NoError(t, env.promo.Unclaim(ctx, link.Code))

	got, err := env.promo.GetByCode(ctx, link.Code)
	require.NoError(t, err)
	require.False(t, got.IsUsed)
	require.Nil(t, got.UsedAt)
	require.Empty(t, got.Recipient.CryptoAddress)

	// A second rollback has nothing to undo.
	require.ErrorIs(t, env.promo.Unclaim(ctx, link.Code), domain.ErrStateConflict)
}

func TestPromoGetByCodeNotFound(t *testing.T) {
	env := newTestEnv(t, 0)

	_, err := env.promo.GetByCode(context.Background(), "NOSUCHCODE")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.promo.GetByTransaction(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPromoCodeLengthDefault(t *testing.T) {
	env := newTestEnv(t, 0)
	svc := NewPromoService(env.store, "https://pay.test", 0)

	tx := newLedgerTransaction(t, env.ledger)
	link, err := svc.Issue(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, link.Code, 12)
	require.True(t, link.ExpiresAt.After(time.Now().UTC()))
}
