package rail

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// MockCardRail simulates the card acquirer for tests and local development.
// Intents move requires_confirmation -> requires_capture -> captured.
type MockCardRail struct {
	mu      sync.Mutex
	seq     int
	intents map[string]string

	// FailNext forces the next call to fail, then resets.
	FailNext bool
}

func NewMockCardRail() *MockCardRail {
	return &MockCardRail{intents: map[string]string{}}
}

func (r *MockCardRail) failOnce() error {
	if r.FailNext {
		r.FailNext = false
		return fmt.Errorf("card rail temporarily unavailable")
	}
	return nil
}

func (r *MockCardRail) CreateIntent(_ context.Context, amount decimal.Decimal, currency, reference string) (CardIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failOnce(); err != nil {
		return CardIntent{}, err
	}
	if amount.Sign() <= 0 {
		return CardIntent{}, fmt.Errorf("invalid intent amount %s %s", amount, currency)
	}
	r.seq++
	id := fmt.Sprintf("pi_mock_%06d", r.seq)
	r.intents[id] = "requires_confirmation"
	return CardIntent{
		IntentID:     id,
		ClientSecret: id + "_secret_" + reference,
		Status:       "requires_confirmation",
	}, nil
}

func (r *MockCardRail) ConfirmIntent(_ context.Context, intentID, paymentMethodID string) (CardIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failOnce(); err != nil {
		return CardIntent{}, err
	}
	status, ok := r.intents[intentID]
	if !ok {
		return CardIntent{}, fmt.Errorf("unknown intent %s", intentID)
	}
	if paymentMethodID == "" {
		return CardIntent{}, fmt.Errorf("payment method required")
	}
	if status != "requires_confirmation" {
		return CardIntent{}, fmt.Errorf("intent %s is %s, cannot confirm", intentID, status)
	}
	r.intents[intentID] = "requires_capture"
	return CardIntent{IntentID: intentID, Status: "requires_capture"}, nil
}

func (r *MockCardRail) Capture(_ context.Context, intentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failOnce(); err != nil {
		return err
	}
	if r.intents[intentID] != "requires_capture" {
		return fmt.Errorf("intent %s not ready for capture", intentID)
	}
	r.intents[intentID] = "captured"
	return nil
}

func (r *MockCardRail) Refund(_ context.Context, intentID, reason string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failOnce(); err != nil {
		return "", err
	}
	if _, ok := r.intents[intentID]; !ok {
		return "", fmt.Errorf("unknown intent %s", intentID)
	}
	r.seq++
	return fmt.Sprintf("re_mock_%06d", r.seq), nil
}

func (r *MockCardRail) PayoutToCard(_ context.Context, cardToken string, amount decimal.Decimal, currency string) (PayoutReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failOnce(); err != nil {
		return PayoutReceipt{}, err
	}
	if cardToken == "" {
		return PayoutReceipt{}, fmt.Errorf("card token required")
	}
	r.seq++
	return PayoutReceipt{
		ExternalID: fmt.Sprintf("po_mock_%06d", r.seq),
		Fee:        decimal.Zero,
		Settled:    true,
	}, nil
}

func (r *MockCardRail) PayoutToBank(_ context.Context, bankDetails map[string]any, amount decimal.Decimal, currency string) (PayoutReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failOnce(); err != nil {
		return PayoutReceipt{}, err
	}
	if len(bankDetails) == 0 {
		return PayoutReceipt{}, fmt.Errorf("bank details required")
	}
	r.seq++
	// Bank transfers settle out of band.
	return PayoutReceipt{
		ExternalID: fmt.Sprintf("bt_mock_%06d", r.seq),
		Fee:        decimal.Zero,
		Settled:    false,
	}, nil
}

// MockCryptoRail simulates wallet infrastructure. Deposit addresses are
// derived deterministically from the reference so repeated calls agree.
type MockCryptoRail struct {
	mu       sync.Mutex
	seq      int
	deposits map[string]DepositStatus

	FailNext bool
}

func NewMockCryptoRail() *MockCryptoRail {
	return &MockCryptoRail{deposits: map[string]DepositStatus{}}
}

func (r *MockCryptoRail) failOnce() error {
	if r.FailNext {
		r.FailNext = false
		return fmt.Errorf("crypto rail temporarily unavailable")
	}
	return nil
}

func (r *MockCryptoRail) GenerateDepositAddress(_ context.Context, currency, reference string) (DepositAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failOnce(); err != nil {
		return DepositAddress{}, err
	}
	sum := sha256.Sum256([]byte(currency + ":" + reference))
	digest := hex.EncodeToString(sum[:])

	var address string
	switch currency {
	case "BTC":
		address = "bc1q" + digest[:38]
	case "ETH", "USDT":
		address = "0x" + digest[:40]
	default:
		return DepositAddress{}, fmt.Errorf("cryptocurrency %s not supported", currency)
	}
	return DepositAddress{Address: address, Currency: currency}, nil
}

// SetDeposit seeds an observed deposit for CheckDeposit to report.
func (r *MockCryptoRail) SetDeposit(address string, status DepositStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deposits[address] = status
}

func (r *MockCryptoRail) CheckDeposit(_ context.Context, address, currency string, expected decimal.Decimal) (DepositStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failOnce(); err != nil {
		return DepositStatus{}, err
	}
	status, ok := r.deposits[address]
	if !ok {
		return DepositStatus{}, nil
	}
	if status.Confirmed && status.Amount.LessThan(expected) {
		return DepositStatus{}, fmt.Errorf("deposit %s short: got %s, expected %s", address, status.Amount, expected)
	}
	return status, nil
}

func (r *MockCryptoRail) Payout(_ context.Context, address string, amount decimal.Decimal, currency string) (PayoutReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failOnce(); err != nil {
		return PayoutReceipt{}, err
	}
	if !ValidateAddress(address, currency) {
		return PayoutReceipt{}, fmt.Errorf("invalid %s address %s", currency, address)
	}
	r.seq++
	return PayoutReceipt{
		ExternalID: fmt.Sprintf("0xmocktx%056d", r.seq),
		Fee:        decimal.Zero,
		Settled:    true,
	}, nil
}

// StaticRateProvider serves fixed rates for tests. Values are expressed as
// USD per unit; the pair rate is their ratio.
type StaticRateProvider struct {
	usdValue map[string]decimal.Decimal
}

func NewStaticRateProvider() *StaticRateProvider {
	return &StaticRateProvider{
		usdValue: map[string]decimal.Decimal{
			"USD":  decimal.NewFromInt(1),
			"EUR":  decimal.RequireFromString("1.087"),
			"GBP":  decimal.RequireFromString("1.266"),
			"BTC":  decimal.NewFromInt(65000),
			"ETH":  decimal.NewFromInt(3200),
			"USDT": decimal.NewFromInt(1),
		},
	}
}

func (p *StaticRateProvider) Name() string { return "static" }

// SetRate overrides the USD value of one currency.
func (p *StaticRateProvider) SetRate(code string, usdValue decimal.Decimal) {
	p.usdValue[code] = usdValue
}

func (p *StaticRateProvider) FetchRate(_ context.Context, from, to string) (decimal.Decimal, error) {
	fromVal, ok := p.usdValue[from]
	if !ok {
		return decimal.Zero, fmt.Errorf("no static rate for %s", from)
	}
	toVal, ok := p.usdValue[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("no static rate for %s", to)
	}
	return fromVal.Div(toVal), nil
}
