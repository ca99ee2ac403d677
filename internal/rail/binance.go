package rail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

const defaultBinanceBaseURL = "https://api.binance.com/api/v3"

// BinanceProvider fetches spot prices from the Binance ticker endpoint.
// Binance quotes concatenated symbol pairs (BTCUSDT); when the direct pair
// is unknown the reverse pair is tried and inverted.
type BinanceProvider struct {
	baseURL string
	client  *http.Client
}

func NewBinanceProvider(baseURL string) *BinanceProvider {
	if baseURL == "" {
		baseURL = defaultBinanceBaseURL
	}
	return &BinanceProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *BinanceProvider) Name() string { return "binance" }

type binanceTicker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func (p *BinanceProvider) FetchRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	rate, err := p.fetchSymbol(ctx, from+to)
	if err == nil {
		return rate, nil
	}

	reverse, revErr := p.fetchSymbol(ctx, to+from)
	if revErr != nil {
		return decimal.Zero, fmt.Errorf("binance has no pair %s/%s: %w", from, to, err)
	}
	if reverse.IsZero() {
		return decimal.Zero, fmt.Errorf("binance returned zero price for %s%s", to, from)
	}
	return decimal.New(1, 0).Div(reverse), nil
}

func (p *BinanceProvider) fetchSymbol(ctx context.Context, symbol string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/ticker/price?%s", p.baseURL, url.Values{"symbol": {symbol}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("binance returned status %d for %s", resp.StatusCode, symbol)
	}

	var ticker binanceTicker
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		return decimal.Zero, fmt.Errorf("decode binance response: %w", err)
	}

	price, err := decimal.NewFromString(ticker.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse binance price %q: %w", ticker.Price, err)
	}
	return price, nil
}
