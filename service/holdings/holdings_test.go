package holdings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/solwatch/service/ledger"
	"github.com/brojonat/solwatch/service/ledger/ledgertest"
)

func newTestUpdater(store ledger.Store) *Updater {
	return NewUpdater(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestApplyHolding(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	u := newTestUpdater(store)

	h, err := u.ApplyHolding(ctx, ledgertest.WalletA, ledger.Details{
		Amount: decimal.RequireFromString("2.5"), Token: "USDC", Direction: ledger.DirectionIn,
	})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("2.5").Equal(h.Amount))

	h, err = u.ApplyHolding(ctx, ledgertest.WalletA, ledger.Details{
		Amount: decimal.RequireFromString("1"), Token: "USDC", Direction: ledger.DirectionOut,
	})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1.5").Equal(h.Amount))

	stored, err := store.GetHolding(ctx, ledgertest.WalletA, "USDC")
	require.NoError(t, err)
	assert.True(t, h.Amount.Equal(stored.Amount))

	_, err = u.ApplyHolding(ctx, ledgertest.WalletA, ledger.Details{})
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestCommit_SwapMovesBothLegs(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	u := newTestUpdater(store)

	require.NoError(t, store.PutHolding(ctx, ledger.Holding{
		Address: ledgertest.WalletA, Token: "USDC", Amount: decimal.RequireFromString("100"),
	}))

	rec := ledgertest.Record(ledgertest.WalletA, "swap-1", "4000")
	rec.Type = ledger.TypeSwap
	rec.Details.Token = "BONK"
	rec.Details.Counter = &ledger.Leg{Amount: decimal.RequireFromString("40"), Token: "USDC", Direction: ledger.DirectionOut}

	updated, err := u.Commit(ctx, rec)
	require.NoError(t, err)
	require.Len(t, updated, 2)

	list, err := store.ListHoldings(ctx, ledgertest.WalletA)
	require.NoError(t, err)
	got := map[string]string{}
	for _, h := range list {
		got[h.Token] = h.Amount.String()
	}
	assert.Equal(t, map[string]string{"BONK": "4000", "USDC": "60"}, got)
}

func TestCommit_DuplicateLeavesHoldings(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	u := newTestUpdater(store)

	rec := ledgertest.Record(ledgertest.WalletA, "sig-1", "2.5")
	_, err := u.Commit(ctx, rec)
	require.NoError(t, err)

	_, err = u.Commit(ctx, rec)
	assert.ErrorIs(t, err, ledger.ErrDuplicateTransaction)

	h, err := store.GetHolding(ctx, ledgertest.WalletA, "USDC")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("2.5").Equal(h.Amount))

	n, err := store.CountTransactions(ctx, ledgertest.WalletA)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCommit_UnknownWritesRecordOnly(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	u := newTestUpdater(store)

	rec := ledger.TransactionRecord{Address: ledgertest.WalletA, Signature: "sig-u", Type: ledger.TypeUnknown}
	updated, err := u.Commit(ctx, rec)
	require.NoError(t, err)
	assert.Empty(t, updated)

	ok, err := store.HasTransaction(ctx, ledgertest.WalletA, "sig-u")
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := store.ListHoldings(ctx, ledgertest.WalletA)
	require.NoError(t, err)
	assert.Empty(t, list)
}

// failingStore rejects every RecordTransaction.
type failingStore struct {
	*ledger.MemoryStore
}

func (f failingStore) RecordTransaction(ctx context.Context, record ledger.TransactionRecord, holdings []ledger.Holding) error {
	return errors.New("disk full")
}

func TestCommit_StoreFailure(t *testing.T) {
	ctx := context.Background()
	store := failingStore{ledger.NewMemoryStore()}
	u := newTestUpdater(store)

	_, err := u.Commit(ctx, ledgertest.Record(ledgertest.WalletA, "sig-1", "1"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ledger.ErrDuplicateTransaction)

	_, err = store.GetHolding(ctx, ledgertest.WalletA, "USDC")
	assert.ErrorIs(t, err, ledger.ErrHoldingNotFound)
}

// The holding equals the signed sum of every committed leg no matter how the
// commits interleave.
func TestCommit_ConcurrentSum(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	u := newTestUpdater(store)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := ledgertest.Record(ledgertest.WalletA, fmt.Sprintf("sig-%d", i), "1.25")
			if i%5 == 0 {
				rec.Details.Direction = ledger.DirectionOut
			}
			_, err := u.Commit(ctx, rec)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// 40 inflows and 10 outflows of 1.25.
	h, err := store.GetHolding(ctx, ledgertest.WalletA, "USDC")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("37.5").Equal(h.Amount), "got %s", h.Amount)
	assert.Zero(t, u.locks.size())
}

func TestKeyLocker_SerialisesPerKey(t *testing.T) {
	k := newKeyLocker()
	k.Lock("a")

	acquired := make(chan struct{})
	go func() {
		k.Lock("a")
		close(acquired)
		k.Unlock("a")
	}()

	// A different key is independent.
	k.Lock("b")
	k.Unlock("b")

	select {
	case <-acquired:
		t.Fatal("second Lock on the same key returned while held")
	case <-time.After(50 * time.Millisecond):
	}

	k.Unlock("a")
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the key")
	}
	assert.Panics(t, func() { k.Unlock("never") })
}
