package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// TokenListResolver looks mints up in a Jupiter-style token API:
// GET {baseURL}/token/{mint} -> {"address": ..., "symbol": ..., "decimals": ...}.
type TokenListResolver struct {
	client  *resty.Client
	baseURL string
}

type tokenInfo struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
}

// NewTokenListResolver returns a resolver for baseURL.
func NewTokenListResolver(baseURL string, timeout time.Duration) *TokenListResolver {
	return &TokenListResolver{
		client:  resty.New().SetTimeout(timeout),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (r *TokenListResolver) ResolveSymbol(ctx context.Context, mint string) (string, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetPathParam("mint", mint).
		Get(r.baseURL + "/token/{mint}")
	if err != nil {
		return "", fmt.Errorf("token list request failed: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return "", fmt.Errorf("%w: mint %s not listed", ErrUnavailable, mint)
	}
	if resp.IsError() {
		return "", fmt.Errorf("token list request failed with status: %s", resp.Status())
	}

	var info tokenInfo
	if err := json.Unmarshal(resp.Body(), &info); err != nil {
		return "", fmt.Errorf("failed to decode token info: %w", err)
	}
	if info.Symbol == "" {
		return "", fmt.Errorf("%w: mint %s has no symbol", ErrUnavailable, mint)
	}
	return info.Symbol, nil
}
