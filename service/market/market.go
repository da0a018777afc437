// Package market resolves mint addresses to display symbols and symbols to
// market data. Every lookup is best effort: callers treat errors as "field
// unavailable", never as a failed transaction.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/brojonat/solwatch/service/metrics"
)

// ErrUnavailable is returned when a lookup has no answer.
var ErrUnavailable = errors.New("market data unavailable")

// SymbolResolver maps a mint address to a display symbol.
type SymbolResolver interface {
	ResolveSymbol(ctx context.Context, mint string) (string, error)
}

// MarketData looks up the USD market capitalisation for a symbol.
type MarketData interface {
	MarketCapUSD(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Well-known mints that never need a network lookup.
var wellKnownSymbols = map[string]string{
	"So11111111111111111111111111111111111111112":  "SOL",
	"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": "USDC",
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": "USDT",
	"DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263": "BONK",
	"JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN":  "JUP",
	"mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So":  "mSOL",
}

// StaticSymbols resolves from a fixed table.
type StaticSymbols map[string]string

// DefaultStaticSymbols returns a copy of the built-in table.
func DefaultStaticSymbols() StaticSymbols {
	out := make(StaticSymbols, len(wellKnownSymbols))
	for k, v := range wellKnownSymbols {
		out[k] = v
	}
	return out
}

func (s StaticSymbols) ResolveSymbol(ctx context.Context, mint string) (string, error) {
	if sym, ok := s[mint]; ok {
		return sym, nil
	}
	return "", fmt.Errorf("%w: no symbol for %s", ErrUnavailable, mint)
}

// SymbolChain tries each resolver in order and returns the first answer.
type SymbolChain struct {
	resolvers []SymbolResolver
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewSymbolChain builds a chain. Nil resolvers are skipped.
func NewSymbolChain(logger *slog.Logger, m *metrics.Metrics, resolvers ...SymbolResolver) *SymbolChain {
	chain := &SymbolChain{logger: logger, metrics: m}
	for _, r := range resolvers {
		if r != nil {
			chain.resolvers = append(chain.resolvers, r)
		}
	}
	return chain
}

func (c *SymbolChain) ResolveSymbol(ctx context.Context, mint string) (string, error) {
	var lastErr error = ErrUnavailable
	for _, r := range c.resolvers {
		sym, err := r.ResolveSymbol(ctx, mint)
		if err == nil && sym != "" {
			if c.metrics != nil {
				c.metrics.RecordEnrichment("symbol", nil)
			}
			return sym, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	if c.metrics != nil {
		c.metrics.RecordEnrichment("symbol", lastErr)
	}
	c.logger.Debug("symbol unresolved", "mint", mint, "error", lastErr)
	return "", lastErr
}
