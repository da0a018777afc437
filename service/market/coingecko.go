package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// CoinGecko reads market_data.market_cap.usd from GET {baseURL}/coins/{id},
// using the lower-cased symbol as the coin id.
type CoinGecko struct {
	client  *resty.Client
	baseURL string
}

type coinResponse struct {
	MarketData struct {
		MarketCap map[string]json.Number `json:"market_cap"`
	} `json:"market_data"`
}

// NewCoinGecko returns a client for baseURL (e.g. https://api.coingecko.com/api/v3).
func NewCoinGecko(baseURL string, timeout time.Duration) *CoinGecko {
	return &CoinGecko{
		client:  resty.New().SetTimeout(timeout),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (c *CoinGecko) MarketCapUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if symbol == "" {
		return decimal.Zero, fmt.Errorf("%w: empty symbol", ErrUnavailable)
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetPathParam("id", strings.ToLower(symbol)).
		Get(c.baseURL + "/coins/{id}")
	if err != nil {
		return decimal.Zero, fmt.Errorf("coingecko request failed: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return decimal.Zero, fmt.Errorf("%w: unknown coin %s", ErrUnavailable, symbol)
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("coingecko request failed with status: %s", resp.Status())
	}

	var body coinResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode coingecko response: %w", err)
	}
	usd, ok := body.MarketData.MarketCap["usd"]
	if !ok || usd == "" {
		return decimal.Zero, fmt.Errorf("%w: no usd market cap for %s", ErrUnavailable, symbol)
	}
	mcap, err := decimal.NewFromString(usd.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid market cap %q: %w", usd, err)
	}
	return mcap, nil
}
