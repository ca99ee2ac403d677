package rail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const defaultCoinGeckoBaseURL = "https://api.coingecko.com/api/v3"

// coingeckoIDs maps our currency codes onto CoinGecko asset identifiers.
var coingeckoIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"USDT": "tether",
	"USD":  "usd",
	"EUR":  "eur",
	"GBP":  "gbp",
}

// CoinGeckoProvider fetches rates from the CoinGecko simple price endpoint.
// It serves as the fallback when Binance does not list a pair.
type CoinGeckoProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewCoinGeckoProvider(baseURL, apiKey string) *CoinGeckoProvider {
	if baseURL == "" {
		baseURL = defaultCoinGeckoBaseURL
	}
	return &CoinGeckoProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *CoinGeckoProvider) Name() string { return "coingecko" }

func (p *CoinGeckoProvider) FetchRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	fromID, ok := coingeckoIDs[from]
	if !ok {
		return decimal.Zero, fmt.Errorf("coingecko has no asset id for %s", from)
	}
	toID, ok := coingeckoIDs[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("coingecko has no asset id for %s", to)
	}

	params := url.Values{"ids": {fromID}, "vs_currencies": {toID}}
	if p.apiKey != "" {
		params.Set("x_cg_demo_api_key", p.apiKey)
	}
	endpoint := fmt.Sprintf("%s/simple/price?%s", p.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("coingecko request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("coingecko returned status %d", resp.StatusCode)
	}

	var payload map[string]map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("decode coingecko response: %w", err)
	}

	quote, ok := payload[fromID][strings.ToLower(toID)]
	if !ok {
		return decimal.Zero, fmt.Errorf("coingecko has no quote for %s/%s", from, to)
	}
	rate, err := decimal.NewFromString(quote.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse coingecko price %q: %w", quote, err)
	}
	return rate, nil
}
