package solana

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	mu sync.Mutex

	// pages are returned by successive GetSignaturesForAddress calls; the last
	// page repeats once exhausted.
	pages    [][]*rpc.TransactionSignature
	sigCalls int
	sigOpts  []rpc.GetSignaturesForAddressOpts

	transactions map[string]*rpc.GetTransactionResult
	// notFoundFor makes GetTransaction return rpc.ErrNotFound this many times.
	notFoundFor int
	txCalls     int32

	accounts map[string][]byte
	acctHits int32

	err error
}

func (m *mockRPCClient) GetSignaturesForAddress(
	ctx context.Context,
	address solana.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.sigOpts = append(m.sigOpts, *opts)
	if len(m.pages) == 0 {
		return nil, nil
	}
	idx := min(m.sigCalls, len(m.pages)-1)
	m.sigCalls++
	return m.pages[idx], nil
}

func (m *mockRPCClient) GetTransaction(
	ctx context.Context,
	signature solana.Signature,
	opts *rpc.GetTransactionOpts,
) (*rpc.GetTransactionResult, error) {
	n := atomic.AddInt32(&m.txCalls, 1)
	if m.err != nil {
		return nil, m.err
	}
	if int(n) <= m.notFoundFor {
		return nil, rpc.ErrNotFound
	}
	res, ok := m.transactions[signature.String()]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return res, nil
}

func (m *mockRPCClient) GetAccountData(ctx context.Context, account solana.PublicKey) ([]byte, error) {
	atomic.AddInt32(&m.acctHits, 1)
	if m.err != nil {
		return nil, m.err
	}
	data, ok := m.accounts[account.String()]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return data, nil
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newTestClient(mock *mockRPCClient, opts ...Option) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithSleep(noSleep)}, opts...)
	return NewClient(mock, "test", nil, logger, opts...)
}

func sigs(t *testing.T, n int) []solana.Signature {
	t.Helper()
	out := make([]solana.Signature, n)
	for i := range out {
		out[i][0] = byte(i + 1)
		out[i][63] = 0xAB
	}
	return out
}

func page(ss ...solana.Signature) []*rpc.TransactionSignature {
	out := make([]*rpc.TransactionSignature, 0, len(ss))
	for _, s := range ss {
		out = append(out, &rpc.TransactionSignature{Signature: s})
	}
	return out
}

const testWallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

func TestLatestSignature(t *testing.T) {
	ctx := context.Background()
	s := sigs(t, 2)

	t.Run("returns newest", func(t *testing.T) {
		mock := &mockRPCClient{pages: [][]*rpc.TransactionSignature{page(s[1], s[0])}}
		got, err := newTestClient(mock).LatestSignature(ctx, testWallet)
		require.NoError(t, err)
		assert.Equal(t, s[1].String(), got)
		require.Len(t, mock.sigOpts, 1)
		require.NotNil(t, mock.sigOpts[0].Limit)
		assert.Equal(t, 1, *mock.sigOpts[0].Limit)
	})

	t.Run("empty history", func(t *testing.T) {
		got, err := newTestClient(&mockRPCClient{}).LatestSignature(ctx, testWallet)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("invalid address", func(t *testing.T) {
		_, err := newTestClient(&mockRPCClient{}).LatestSignature(ctx, "bogus")
		assert.ErrorIs(t, err, ErrInvalidAddress)
	})

	t.Run("rpc error", func(t *testing.T) {
		_, err := newTestClient(&mockRPCClient{err: errors.New("boom")}).LatestSignature(ctx, testWallet)
		assert.Error(t, err)
	})
}

func TestSignaturesSince(t *testing.T) {
	ctx := context.Background()
	s := sigs(t, 6)

	t.Run("oldest first with cursor", func(t *testing.T) {
		mock := &mockRPCClient{pages: [][]*rpc.TransactionSignature{page(s[3], s[2], s[1])}}
		got, err := newTestClient(mock).SignaturesSince(ctx, testWallet, s[0].String(), 10)
		require.NoError(t, err)
		assert.Equal(t, []string{s[1].String(), s[2].String(), s[3].String()}, got)
		assert.Equal(t, s[0], mock.sigOpts[0].Until)
	})

	t.Run("pages backwards when a page is full", func(t *testing.T) {
		mock := &mockRPCClient{pages: [][]*rpc.TransactionSignature{
			page(s[5], s[4]),
			page(s[3], s[2]),
			page(s[1]),
		}}
		got, err := newTestClient(mock).SignaturesSince(ctx, testWallet, s[0].String(), 2)
		require.NoError(t, err)
		assert.Equal(t, []string{s[1].String(), s[2].String(), s[3].String(), s[4].String(), s[5].String()}, got)
		require.Len(t, mock.sigOpts, 3)
		assert.Equal(t, s[4], mock.sigOpts[1].Before)
		assert.Equal(t, s[2], mock.sigOpts[2].Before)
	})

	t.Run("no cursor reads one page", func(t *testing.T) {
		mock := &mockRPCClient{pages: [][]*rpc.TransactionSignature{page(s[1], s[0])}}
		got, err := newTestClient(mock).SignaturesSince(ctx, testWallet, "", 2)
		require.NoError(t, err)
		assert.Equal(t, []string{s[0].String(), s[1].String()}, got)
		assert.Len(t, mock.sigOpts, 1)
	})

	t.Run("nothing new", func(t *testing.T) {
		got, err := newTestClient(&mockRPCClient{}).SignaturesSince(ctx, testWallet, s[0].String(), 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("bad cursor", func(t *testing.T) {
		_, err := newTestClient(&mockRPCClient{}).SignaturesSince(ctx, testWallet, "zz", 10)
		assert.Error(t, err)
	})
}

func TestGetTransaction(t *testing.T) {
	ctx := context.Background()
	s := sigs(t, 1)[0]
	from, to := newKey(), newKey()
	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{from, to, SystemProgramID},
			Header:      solana.MessageHeader{NumRequiredSignatures: 1},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: systemTransferData(10)},
			},
		},
	}
	result := &rpc.GetTransactionResult{Slot: 5, Transaction: makeTransactionEnvelope(t, tx), Meta: &rpc.TransactionMeta{}}

	t.Run("succeeds after not found", func(t *testing.T) {
		mock := &mockRPCClient{
			transactions: map[string]*rpc.GetTransactionResult{s.String(): result},
			notFoundFor:  2,
		}
		txn, err := newTestClient(mock).GetTransaction(ctx, s.String())
		require.NoError(t, err)
		assert.Equal(t, uint64(5), txn.Slot)
		assert.Equal(t, int32(3), mock.txCalls)
	})

	t.Run("gives up with not found", func(t *testing.T) {
		mock := &mockRPCClient{}
		client := newTestClient(mock, WithRetryPolicy(RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}))
		_, err := client.GetTransaction(ctx, s.String())
		assert.ErrorIs(t, err, ErrTransactionNotFound)
		assert.Equal(t, int32(3), mock.txCalls)
	})

	t.Run("gives up with last error", func(t *testing.T) {
		mock := &mockRPCClient{err: errors.New("HTTP 429 Too Many Requests")}
		client := newTestClient(mock, WithRetryPolicy(RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond}))
		_, err := client.GetTransaction(ctx, s.String())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrTransactionNotFound)
		assert.Contains(t, err.Error(), "429")
	})

	t.Run("backoff grows and is capped", func(t *testing.T) {
		var waits []time.Duration
		mock := &mockRPCClient{}
		client := newTestClient(mock,
			WithRetryPolicy(RetryPolicy{MaxAttempts: 5, Backoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}),
			WithSleep(func(ctx context.Context, d time.Duration) error {
				waits = append(waits, d)
				return nil
			}),
		)
		_, err := client.GetTransaction(ctx, s.String())
		require.Error(t, err)
		assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}, waits)
	})

	t.Run("cancelled while backing off", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		mock := &mockRPCClient{}
		_, err := newTestClient(mock).GetTransaction(cctx, s.String())
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("invalid signature", func(t *testing.T) {
		_, err := newTestClient(&mockRPCClient{}).GetTransaction(ctx, "nope")
		assert.Error(t, err)
	})
}

func TestMintDecimals_Cached(t *testing.T) {
	ctx := context.Background()
	mint := newKey()
	data := make([]byte, 82)
	data[44] = 9

	mock := &mockRPCClient{accounts: map[string][]byte{mint.String(): data}}
	client := newTestClient(mock)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := client.MintDecimals(ctx, mint.String())
			assert.NoError(t, err)
			assert.Equal(t, uint8(9), d)
		}()
	}
	wg.Wait()

	_, err := client.MintDecimals(ctx, mint.String())
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&mock.acctHits), int32(10))

	before := atomic.LoadInt32(&mock.acctHits)
	_, err = client.MintDecimals(ctx, mint.String())
	require.NoError(t, err)
	assert.Equal(t, before, atomic.LoadInt32(&mock.acctHits), "cached lookups must not hit RPC")
}

func TestMintDecimals_Missing(t *testing.T) {
	client := newTestClient(&mockRPCClient{})
	_, err := client.MintDecimals(context.Background(), newKey().String())
	assert.Error(t, err)
}

func TestTokenAccountMint(t *testing.T) {
	account, mint, owner := newKey(), newKey(), newKey()
	data := make([]byte, 165)
	copy(data[0:32], mint[:])
	copy(data[32:64], owner[:])

	client := newTestClient(&mockRPCClient{accounts: map[string][]byte{account.String(): data}})
	gotMint, gotOwner, err := client.TokenAccountMint(context.Background(), account.String())
	require.NoError(t, err)
	assert.Equal(t, mint.String(), gotMint)
	assert.Equal(t, owner.String(), gotOwner)
}

func TestResolveAddress(t *testing.T) {
	client := newTestClient(&mockRPCClient{})
	pk, err := client.ResolveAddress(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Equal(t, testWallet, pk.String())

	_, err = client.ResolveAddress(context.Background(), "0xdeadbeef")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
