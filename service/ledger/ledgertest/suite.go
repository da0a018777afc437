// Package ledgertest holds the behaviour every ledger.Store backend must share.
// Backends call Run from their own tests with a factory returning a fresh,
// empty store.
package ledgertest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/solwatch/service/ledger"
)

const (
	WalletA = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	WalletB = "7EcDhSYGxXyscszYEp35KHN8vvw3svAuLKTzXwCFLtV"
	MintA   = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) ledger.Store

// Run exercises the full Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("accounts", func(t *testing.T) { testAccounts(t, newStore(t)) })
	t.Run("transactions", func(t *testing.T) { testTransactions(t, newStore(t)) })
	t.Run("record transaction is atomic", func(t *testing.T) { testRecordTransaction(t, newStore(t)) })
	t.Run("holdings", func(t *testing.T) { testHoldings(t, newStore(t)) })
	t.Run("concurrent records", func(t *testing.T) { testConcurrentRecords(t, newStore(t)) })
}

// Record builds a transfer record for tests.
func Record(address, signature string, amount string) ledger.TransactionRecord {
	mint := MintA
	return ledger.TransactionRecord{
		Address:   address,
		Signature: signature,
		Slot:      100,
		Type:      ledger.TypeTransfer,
		Details: ledger.Details{
			Amount:       decimal.RequireFromString(amount),
			Token:        "USDC",
			TokenAddress: &mint,
			Direction:    ledger.DirectionIn,
		},
		ObservedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testAccounts(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.AddAccount(ctx, ledger.TrackedAccount{Address: WalletA, Label: "main", SubscriberID: "u1", CreatedAt: now}))
	require.NoError(t, store.AddAccount(ctx, ledger.TrackedAccount{Address: WalletA, Label: "shared", SubscriberID: "u2", CreatedAt: now}))
	require.NoError(t, store.AddAccount(ctx, ledger.TrackedAccount{Address: WalletB, Label: WalletB, SubscriberID: "u1", CreatedAt: now}))

	err := store.AddAccount(ctx, ledger.TrackedAccount{Address: WalletA, Label: "again", SubscriberID: "u1", CreatedAt: now})
	assert.ErrorIs(t, err, ledger.ErrAccountExists)

	u1, err := store.ListAccounts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, u1, 2)
	assert.Equal(t, WalletA, u1[0].Address)
	assert.Equal(t, "main", u1[0].Label)
	assert.Equal(t, WalletB, u1[1].Address)

	all, err := store.ListAllAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := store.ListAccounts(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, store.RemoveAccount(ctx, WalletA, "u1"))
	assert.ErrorIs(t, store.RemoveAccount(ctx, WalletA, "u1"), ledger.ErrAccountNotFound)

	u2, err := store.ListAccounts(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, u2, 1, "removing one subscriber must not touch another")
	assert.Equal(t, WalletA, u2[0].Address)
}

func testTransactions(t *testing.T, store ledger.Store) {
	ctx := context.Background()

	ok, err := store.HasTransaction(ctx, WalletA, "sig1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.AppendTransaction(ctx, Record(WalletA, "sig1", "1")))
	require.NoError(t, store.AppendTransaction(ctx, Record(WalletA, "sig2", "2.5")))
	require.NoError(t, store.AppendTransaction(ctx, Record(WalletB, "sig1", "3")))

	assert.ErrorIs(t, store.AppendTransaction(ctx, Record(WalletA, "sig1", "9")), ledger.ErrDuplicateTransaction)

	ok, err = store.HasTransaction(ctx, WalletA, "sig1")
	require.NoError(t, err)
	assert.True(t, ok)

	count, err := store.CountTransactions(ctx, WalletA)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	txs, err := store.ListTransactions(ctx, WalletA, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "sig2", txs[0].Signature, "newest first")
	assert.True(t, decimal.RequireFromString("2.5").Equal(txs[0].Details.Amount))
	assert.Equal(t, "USDC", txs[0].Details.Token)
	require.NotNil(t, txs[0].Details.TokenAddress)
	assert.Equal(t, MintA, *txs[0].Details.TokenAddress)
	assert.Equal(t, ledger.DirectionIn, txs[0].Details.Direction)
	assert.Equal(t, ledger.TypeTransfer, txs[0].Type)

	limited, err := store.ListTransactions(ctx, WalletA, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func testRecordTransaction(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	holding := ledger.Holding{Address: WalletA, Token: "USDC", Amount: decimal.RequireFromString("2.5"), UpdatedAt: now}
	require.NoError(t, store.RecordTransaction(ctx, Record(WalletA, "sig1", "2.5"), []ledger.Holding{holding}))

	// A duplicate must not touch holdings.
	bumped := holding
	bumped.Amount = decimal.RequireFromString("5")
	err := store.RecordTransaction(ctx, Record(WalletA, "sig1", "2.5"), []ledger.Holding{bumped})
	assert.ErrorIs(t, err, ledger.ErrDuplicateTransaction)

	got, err := store.GetHolding(ctx, WalletA, "USDC")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("2.5").Equal(got.Amount), "got %s", got.Amount)

	count, err := store.CountTransactions(ctx, WalletA)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func testHoldings(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := store.GetHolding(ctx, WalletA, "SOL")
	assert.ErrorIs(t, err, ledger.ErrHoldingNotFound)

	require.NoError(t, store.PutHolding(ctx, ledger.Holding{Address: WalletA, Token: "SOL", Amount: decimal.NewFromInt(1), UpdatedAt: now}))
	require.NoError(t, store.PutHolding(ctx, ledger.Holding{Address: WalletA, Token: "SOL", Amount: decimal.RequireFromString("1.5"), UpdatedAt: now}))
	require.NoError(t, store.PutHolding(ctx, ledger.Holding{Address: WalletA, Token: "USDC", Amount: decimal.NewFromInt(-3), UpdatedAt: now}))
	require.NoError(t, store.PutHolding(ctx, ledger.Holding{Address: WalletB, Token: "SOL", Amount: decimal.NewFromInt(7), UpdatedAt: now}))

	got, err := store.GetHolding(ctx, WalletA, "SOL")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1.5").Equal(got.Amount))

	list, err := store.ListHoldings(ctx, WalletA)
	require.NoError(t, err)
	require.Len(t, list, 2)
	tokens := []string{list[0].Token, list[1].Token}
	assert.ElementsMatch(t, []string{"SOL", "USDC"}, tokens)
}

func testConcurrentRecords(t *testing.T, store ledger.Store) {
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.RecordTransaction(ctx, Record(WalletA, "same-sig", "1"), nil)
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, ledger.ErrDuplicateTransaction):
			dup++
		}
	}
	assert.Equal(t, 1, ok, "exactly one writer wins")
	assert.Equal(t, workers-1, dup)

	for i := 0; i < workers; i++ {
		require.NoError(t, store.AppendTransaction(ctx, Record(WalletB, fmt.Sprintf("sig-%d", i), "1")))
	}
	count, err := store.CountTransactions(ctx, WalletB)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), count)
}
