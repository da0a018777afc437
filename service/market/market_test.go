package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStaticSymbols(t *testing.T) {
	s := DefaultStaticSymbols()

	sym, err := s.ResolveSymbol(context.Background(), usdcMint)
	require.NoError(t, err)
	assert.Equal(t, "USDC", sym)

	_, err = s.ResolveSymbol(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTokenListResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token/MintWithSymbol":
			w.Write([]byte(`{"address":"MintWithSymbol","symbol":"WIF","decimals":6}`))
		case "/token/MintNoSymbol":
			w.Write([]byte(`{"address":"MintNoSymbol"}`))
		case "/token/Broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := NewTokenListResolver(srv.URL+"/", time.Second)
	ctx := context.Background()

	sym, err := r.ResolveSymbol(ctx, "MintWithSymbol")
	require.NoError(t, err)
	assert.Equal(t, "WIF", sym)

	_, err = r.ResolveSymbol(ctx, "MintNoSymbol")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = r.ResolveSymbol(ctx, "Missing")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = r.ResolveSymbol(ctx, "Broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestCoinGecko(t *testing.T) {
	var paths []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		switch r.URL.Path {
		case "/coins/bonk":
			w.Write([]byte(`{"market_data":{"market_cap":{"usd":1234567890.5,"eur":1}}}`))
		case "/coins/nousd":
			w.Write([]byte(`{"market_data":{"market_cap":{"eur":1}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cg := NewCoinGecko(srv.URL, time.Second)
	ctx := context.Background()

	mcap, err := cg.MarketCapUSD(ctx, "BONK")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1234567890.5").Equal(mcap), "got %s", mcap)
	assert.Equal(t, "/coins/bonk", paths[0], "symbol is lower-cased into the coin id")

	_, err = cg.MarketCapUSD(ctx, "NOUSD")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = cg.MarketCapUSD(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = cg.MarketCapUSD(ctx, "")
	assert.ErrorIs(t, err, ErrUnavailable)
}

type countingSymbols struct {
	calls int32
	sym   string
	err   error
}

func (c *countingSymbols) ResolveSymbol(ctx context.Context, mint string) (string, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.sym, c.err
}

type staticMarket struct {
	calls int32
	value decimal.Decimal
	err   error
}

func (s *staticMarket) MarketCapUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.value, s.err
}

func TestSymbolChain(t *testing.T) {
	ctx := context.Background()
	failing := &countingSymbols{err: errors.New("down")}
	ok := &countingSymbols{sym: "WIF"}

	chain := NewSymbolChain(discardLogger(), nil, DefaultStaticSymbols(), nil, failing, ok)

	sym, err := chain.ResolveSymbol(ctx, usdcMint)
	require.NoError(t, err)
	assert.Equal(t, "USDC", sym)
	assert.Zero(t, failing.calls, "static table answers first")

	sym, err = chain.ResolveSymbol(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, "WIF", sym)
	assert.Equal(t, int32(1), failing.calls)

	_, err = NewSymbolChain(discardLogger(), nil, failing).ResolveSymbol(ctx, "other")
	assert.Error(t, err)
}

func TestCachedSymbols(t *testing.T) {
	ctx := context.Background()
	inner := &countingSymbols{sym: "WIF"}
	cached := NewCachedSymbols(inner, NewMemoryCache(), time.Minute, discardLogger(), nil)

	for i := 0; i < 3; i++ {
		sym, err := cached.ResolveSymbol(ctx, "mint")
		require.NoError(t, err)
		assert.Equal(t, "WIF", sym)
	}
	assert.Equal(t, int32(1), inner.calls)

	failing := &countingSymbols{err: ErrUnavailable}
	cachedFail := NewCachedSymbols(failing, NewMemoryCache(), time.Minute, discardLogger(), nil)
	_, err := cachedFail.ResolveSymbol(ctx, "mint")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = cachedFail.ResolveSymbol(ctx, "mint")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), failing.calls, "failures are not cached")
}

func TestCachedMarketData(t *testing.T) {
	ctx := context.Background()
	inner := &staticMarket{value: decimal.RequireFromString("987654321.25")}
	cached := NewCachedMarketData(inner, NewMemoryCache(), time.Minute, discardLogger(), nil)

	for i := 0; i < 2; i++ {
		v, err := cached.MarketCapUSD(ctx, "BONK")
		require.NoError(t, err)
		assert.True(t, inner.value.Equal(v))
	}
	assert.Equal(t, int32(1), inner.calls)
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	var got string
	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, "v", got)

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrCacheMiss)
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping redis test (TEST_REDIS_ADDR not set)")
	}
	ctx := context.Background()

	c, err := NewRedisCache(ctx, addr)
	require.NoError(t, err)
	defer c.Close()

	key := "solwatch:test:" + time.Now().Format(time.RFC3339Nano)
	var got string
	assert.ErrorIs(t, c.Get(ctx, key, &got), ErrCacheMiss)

	require.NoError(t, c.Set(ctx, key, "BONK", time.Minute))
	require.NoError(t, c.Get(ctx, key, &got))
	assert.Equal(t, "BONK", got)
}
