package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/solwatch/service/classify"
	"github.com/brojonat/solwatch/service/extract"
	"github.com/brojonat/solwatch/service/ledger"
	"github.com/brojonat/solwatch/service/market"
	"github.com/brojonat/solwatch/service/notify"
	"github.com/brojonat/solwatch/service/solana"
	st "github.com/brojonat/solwatch/service/solana/solanatest"
)

const testMint = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

// subscription is one open fake stream.
type subscription struct {
	ch     chan solana.ChangeEvent
	closed bool
}

// fakeChain is an in-memory chain: per-address signature history, a
// transaction table and live subscriptions.
type fakeChain struct {
	mu             sync.Mutex
	history        map[string][]string
	txs            map[string]*solana.Transaction
	fetchErr       map[string]error
	subs           map[string][]*subscription
	subscribeCalls map[string]int

	// getHook runs at the start of GetTransaction, outside the lock.
	getHook func(signature string)
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		history:        make(map[string][]string),
		txs:            make(map[string]*solana.Transaction),
		fetchErr:       make(map[string]error),
		subs:           make(map[string][]*subscription),
		subscribeCalls: make(map[string]int),
	}
}

func (f *fakeChain) ResolveAddress(ctx context.Context, address string) (solanago.PublicKey, error) {
	return solana.ParseAddress(address)
}

func (f *fakeChain) SubscribeAccountChanges(ctx context.Context, address string) (<-chan solana.ChangeEvent, error) {
	sub := &subscription{ch: make(chan solana.ChangeEvent, 8)}
	f.mu.Lock()
	f.subs[address] = append(f.subs[address], sub)
	f.subscribeCalls[address]++
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		f.closeLocked(address, sub)
	}()
	return sub.ch, nil
}

func (f *fakeChain) closeLocked(address string, sub *subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	live := f.subs[address][:0]
	for _, s := range f.subs[address] {
		if s != sub {
			live = append(live, s)
		}
	}
	f.subs[address] = live
}

func (f *fakeChain) LatestSignature(ctx context.Context, address string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.history[address]
	if len(h) == 0 {
		return "", nil
	}
	return h[len(h)-1], nil
}

func (f *fakeChain) SignaturesSince(ctx context.Context, address, until string, pageSize int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.history[address]
	start := 0
	for i, s := range h {
		if s == until {
			start = i + 1
		}
	}
	return append([]string(nil), h[start:]...), nil
}

func (f *fakeChain) GetTransaction(ctx context.Context, signature string) (*solana.Transaction, error) {
	if f.getHook != nil {
		f.getHook(signature)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fetchErr[signature]; ok {
		return nil, err
	}
	tx, ok := f.txs[signature]
	if !ok {
		return nil, fmt.Errorf("%w: %s", solana.ErrTransactionNotFound, signature)
	}
	return tx, nil
}

func (f *fakeChain) MintDecimals(ctx context.Context, mint string) (uint8, error) {
	return 0, errors.New("not available in fake")
}

func (f *fakeChain) TokenAccountMint(ctx context.Context, account string) (string, string, error) {
	return "", "", errors.New("not available in fake")
}

// Emit appends signature to address's history and notifies subscribers.
func (f *fakeChain) Emit(address, signature string, tx *solana.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[address] = append(f.history[address], signature)
	if tx != nil {
		f.txs[signature] = tx
	}
	f.notifyLocked(address)
}

// Redeliver re-sends a change event without new history.
func (f *fakeChain) Redeliver(address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifyLocked(address)
}

func (f *fakeChain) notifyLocked(address string) {
	for _, s := range f.subs[address] {
		select {
		case s.ch <- solana.ChangeEvent{Address: address, ReceivedAt: time.Now()}:
		default:
		}
	}
}

// EndStreams closes every open stream for address as a dropped socket would.
func (f *fakeChain) EndStreams(address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range append([]*subscription(nil), f.subs[address]...) {
		f.closeLocked(address, s)
	}
}

func (f *fakeChain) liveSubscriptions(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[address])
}

func (f *fakeChain) subscribeCount(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribeCalls[address]
}

type delivered struct {
	subscriber string
	payload    notify.Payload
}

type recordingDelivery struct {
	mu  sync.Mutex
	got []delivered
}

func (r *recordingDelivery) Deliver(ctx context.Context, subscriberID string, p notify.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, delivered{subscriber: subscriberID, payload: p})
	return nil
}

func (r *recordingDelivery) all() []delivered {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivered(nil), r.got...)
}

func (r *recordingDelivery) count() int {
	return len(r.all())
}

type failingSymbols struct{}

func (failingSymbols) ResolveSymbol(ctx context.Context, mint string) (string, error) {
	return "", errors.New("lookup down")
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

type harness struct {
	chain    *fakeChain
	store    ledger.Store
	delivery *recordingDelivery
	mon      *Monitor
}

func newHarness(t *testing.T, store ledger.Store) *harness {
	t.Helper()
	return newHarnessWithSymbols(t, store, failingSymbols{})
}

func newHarnessWithSymbols(t *testing.T, store ledger.Store, symbols market.SymbolResolver) *harness {
	t.Helper()
	if store == nil {
		store = ledger.NewMemoryStore()
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	chain := newFakeChain()
	delivery := &recordingDelivery{}
	mon := New(
		chain,
		store,
		classify.NewClassifier(logger, nil),
		extract.New(chain, symbols, nil, logger),
		delivery,
		logger,
		nil,
		WithSleep(noSleep),
	)
	t.Cleanup(mon.Close)
	return &harness{chain: chain, store: store, delivery: delivery, mon: mon}
}

// track registers address and waits for its subscription to be live.
func (h *harness) track(t *testing.T, subscriber, address, label string) {
	t.Helper()
	before := h.chain.subscribeCount(address)
	_, err := h.mon.Track(context.Background(), subscriber, address, label)
	require.NoError(t, err)
	if before == 0 {
		require.Eventually(t, func() bool { return h.chain.liveSubscriptions(address) > 0 }, time.Second, time.Millisecond)
	}
}

// transferTx moves raw units (6 decimals) of testMint into owner, or out of
// owner when out is set.
func transferTx(signature string, owner solanago.PublicKey, raw uint64, out bool) *solana.Transaction {
	return mintTransferTx(signature, owner, testMint, raw, out)
}

func mintTransferTx(signature string, owner solanago.PublicKey, mint string, raw uint64, out bool) *solana.Transaction {
	src, dst, other := st.NewKey(), st.NewKey(), st.NewKey()
	authority, srcOwner, dstOwner := other, other, owner
	if out {
		authority, srcOwner, dstOwner = owner, owner, other
	}
	blockTime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &solana.Transaction{
		Signature:    signature,
		Slot:         1000,
		BlockTime:    &blockTime,
		Signers:      []solanago.PublicKey{authority},
		Instructions: []solana.Instruction{st.TokenTransfer(src, dst, authority, raw)},
		PostTokenBalances: []solana.TokenBalance{
			st.Balance(src, srcOwner.String(), mint, 0, 6),
			st.Balance(dst, dstOwner.String(), mint, raw, 6),
		},
	}
}

func holdingAmount(t *testing.T, store ledger.Store, address string) decimal.Decimal {
	t.Helper()
	h, err := store.GetHolding(context.Background(), address, testMint)
	require.NoError(t, err)
	return h.Amount
}

func count(t *testing.T, store ledger.Store, address string) int64 {
	t.Helper()
	n, err := store.CountTransactions(context.Background(), address)
	require.NoError(t, err)
	return n
}

func TestMonitor_TransferScenario(t *testing.T) {
	h := newHarness(t, nil)
	a1 := st.NewKey()
	h.track(t, "U1", a1.String(), "")

	h.chain.Emit(a1.String(), "S1", transferTx("S1", a1, 2_500_000, false))
	require.Eventually(t, func() bool { return h.delivery.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	got := h.delivery.all()[0]
	assert.Equal(t, "U1", got.subscriber)
	assert.Equal(t, "S1", got.payload.Signature)
	assert.Equal(t, ledger.TypeTransfer, got.payload.Type)
	require.Len(t, got.payload.Links, 1, "no chart link when enrichment failed")
	assert.Equal(t, "https://solscan.io/tx/S1", got.payload.Links[0].URL)
	assert.Contains(t, got.payload.Text, "*Amount*: 2.5 "+testMint+" (in)")

	assert.True(t, decimal.RequireFromString("2.5").Equal(holdingAmount(t, h.store, a1.String())))
	assert.Equal(t, int64(1), count(t, h.store, a1.String()))

	// Redelivery of the same change and a direct replay of S1 change nothing.
	h.chain.Redeliver(a1.String())
	outcome, err := h.mon.Process(context.Background(), a1.String(), "S1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.delivery.count())
	assert.Equal(t, int64(1), count(t, h.store, a1.String()))
	assert.True(t, decimal.RequireFromString("2.5").Equal(holdingAmount(t, h.store, a1.String())))
}

// flakySymbols names every mint MEME but fails the calls listed in fail.
type flakySymbols struct {
	calls atomic.Int32
	fail  map[int32]bool
}

func (f *flakySymbols) ResolveSymbol(ctx context.Context, mint string) (string, error) {
	if f.fail[f.calls.Add(1)] {
		return "", errors.New("token list timeout")
	}
	return "MEME", nil
}

func TestMonitor_HoldingsKeyedByMint(t *testing.T) {
	symbols := &flakySymbols{fail: map[int32]bool{2: true}}
	h := newHarnessWithSymbols(t, nil, symbols)
	a1 := st.NewKey()
	h.track(t, "U1", a1.String(), "")
	otherMint := st.NewKey().String()

	for i := 0; i < 3; i++ {
		sig := fmt.Sprintf("S%d", i)
		h.chain.Emit(a1.String(), sig, transferTx(sig, a1, 1_000_000, false))
		require.Eventually(t, func() bool { return count(t, h.store, a1.String()) == int64(i+1) }, 2*time.Second, 5*time.Millisecond)
	}
	// A different mint claiming the same symbol.
	h.chain.Emit(a1.String(), "S3", mintTransferTx("S3", a1, otherMint, 4_000_000, false))
	require.Eventually(t, func() bool { return count(t, h.store, a1.String()) == 4 }, 2*time.Second, 5*time.Millisecond)

	list, err := h.store.ListHoldings(context.Background(), a1.String())
	require.NoError(t, err)
	got := make(map[string]string)
	for _, hl := range list {
		got[hl.Token] = hl.Amount.String()
	}
	assert.Equal(t, map[string]string{testMint: "3", otherMint: "4"}, got)

	records, err := h.store.ListTransactions(context.Background(), a1.String(), 10)
	require.NoError(t, err)
	symbolsSeen := 0
	for _, r := range records {
		if r.Details.Symbol == "MEME" {
			symbolsSeen++
		}
	}
	assert.Equal(t, 3, symbolsSeen, "the failed lookup only leaves that record's symbol empty")
}

func TestMonitor_UntrackMidFlight(t *testing.T) {
	h := newHarness(t, nil)
	a1 := st.NewKey()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.chain.getHook = func(sig string) {
		if sig == "S1" {
			once.Do(func() { close(entered) })
			<-release
		}
	}

	h.track(t, "U1", a1.String(), "main")
	h.chain.Emit(a1.String(), "S1", transferTx("S1", a1, 2_500_000, false))

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("S1 never reached fetch")
	}

	require.NoError(t, h.mon.Untrack(context.Background(), "U1", a1.String()))
	assert.Empty(t, h.mon.Watching())
	close(release)

	require.Eventually(t, func() bool { return h.delivery.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), count(t, h.store, a1.String()), "in-flight event completes")
	assert.True(t, decimal.RequireFromString("2.5").Equal(holdingAmount(t, h.store, a1.String())))
	require.Eventually(t, func() bool { return h.chain.liveSubscriptions(a1.String()) == 0 }, time.Second, time.Millisecond)

	h.chain.Emit(a1.String(), "S2", transferTx("S2", a1, 1_000_000, false))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.delivery.count())
	assert.Equal(t, int64(1), count(t, h.store, a1.String()))
}

func TestMonitor_AddressIsolation(t *testing.T) {
	h := newHarness(t, nil)
	a1, a2 := st.NewKey(), st.NewKey()

	release := make(chan struct{})
	h.chain.getHook = func(sig string) {
		if sig == "A1-S1" {
			<-release
		}
	}
	defer close(release)

	h.track(t, "U1", a1.String(), "")
	h.track(t, "U2", a2.String(), "")

	h.chain.Emit(a1.String(), "A1-S1", transferTx("A1-S1", a1, 1_000_000, false))
	h.chain.Emit(a2.String(), "A2-S1", transferTx("A2-S1", a2, 3_000_000, false))

	// A2 completes while A1 is stuck in fetch.
	require.Eventually(t, func() bool { return h.delivery.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	got := h.delivery.all()[0]
	assert.Equal(t, "U2", got.subscriber)
	assert.Equal(t, a2.String(), got.payload.Address)
	assert.Equal(t, int64(0), count(t, h.store, a1.String()))
}

func TestMonitor_HoldingsSum(t *testing.T) {
	h := newHarness(t, nil)
	a1, a2 := st.NewKey(), st.NewKey()
	h.track(t, "U1", a1.String(), "")
	h.track(t, "U1", a2.String(), "")

	amounts := []struct {
		raw uint64
		out bool
	}{{1_000_000, false}, {2_000_000, false}, {500_000, true}, {3_000_000, false}, {250_000, true}}
	for i, a := range amounts {
		sig := fmt.Sprintf("S%d", i)
		h.chain.Emit(a1.String(), sig, transferTx(sig, a1, a.raw, a.out))
		other := fmt.Sprintf("O%d", i)
		h.chain.Emit(a2.String(), other, transferTx(other, a2, 7_000_000, false))
	}

	require.Eventually(t, func() bool {
		return count(t, h.store, a1.String()) == int64(len(amounts)) && count(t, h.store, a2.String()) == int64(len(amounts))
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, decimal.RequireFromString("5.25").Equal(holdingAmount(t, h.store, a1.String())), "got %s", holdingAmount(t, h.store, a1.String()))
	assert.True(t, decimal.RequireFromString("35").Equal(holdingAmount(t, h.store, a2.String())))

	// Records are processed oldest first.
	records, err := h.store.ListTransactions(context.Background(), a1.String(), 0)
	require.NoError(t, err)
	require.Len(t, records, len(amounts))
	assert.Equal(t, "S4", records[0].Signature)
	assert.Equal(t, "S0", records[len(records)-1].Signature)
}

func TestMonitor_FetchFailureDropsAndAdvances(t *testing.T) {
	h := newHarness(t, nil)
	a1 := st.NewKey()
	h.track(t, "U1", a1.String(), "")

	h.chain.mu.Lock()
	h.chain.fetchErr["S1"] = fmt.Errorf("%w: S1", solana.ErrTransactionNotFound)
	h.chain.mu.Unlock()

	h.chain.Emit(a1.String(), "S1", nil)
	h.chain.Emit(a1.String(), "S2", transferTx("S2", a1, 1_000_000, false))

	require.Eventually(t, func() bool { return h.delivery.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "S2", h.delivery.all()[0].payload.Signature)

	ok, err := h.store.HasTransaction(context.Background(), a1.String(), "S1")
	require.NoError(t, err)
	assert.False(t, ok)
}

// flakyStore fails RecordTransaction while failing is set.
type flakyStore struct {
	*ledger.MemoryStore
	failing atomic.Bool
}

func (f *flakyStore) RecordTransaction(ctx context.Context, record ledger.TransactionRecord, holdings []ledger.Holding) error {
	if f.failing.Load() {
		return errors.New("disk full")
	}
	return f.MemoryStore.RecordTransaction(ctx, record, holdings)
}

func TestMonitor_LedgerFailureRetriesOnNextEvent(t *testing.T) {
	store := &flakyStore{MemoryStore: ledger.NewMemoryStore()}
	store.failing.Store(true)
	h := newHarness(t, store)
	a1 := st.NewKey()
	h.track(t, "U1", a1.String(), "")

	h.chain.Emit(a1.String(), "S1", transferTx("S1", a1, 2_500_000, false))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, h.delivery.count())

	store.failing.Store(false)
	h.chain.Emit(a1.String(), "S2", transferTx("S2", a1, 1_000_000, false))

	require.Eventually(t, func() bool { return h.delivery.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	got := h.delivery.all()
	assert.Equal(t, "S1", got[0].payload.Signature, "the failed signature is retried first")
	assert.Equal(t, "S2", got[1].payload.Signature)
	assert.True(t, decimal.RequireFromString("3.5").Equal(holdingAmount(t, store, a1.String())))
}

func TestMonitor_SharedWatcher(t *testing.T) {
	h := newHarness(t, nil)
	a1 := st.NewKey()
	h.track(t, "U1", a1.String(), "alice")
	h.track(t, "U2", a1.String(), "bob")
	assert.Equal(t, []string{a1.String()}, h.mon.Watching())
	assert.Equal(t, 1, h.chain.subscribeCount(a1.String()), "one stream per address")

	h.chain.Emit(a1.String(), "S1", transferTx("S1", a1, 1_000_000, false))
	require.Eventually(t, func() bool { return h.delivery.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	got := h.delivery.all()
	assert.Equal(t, "U1", got[0].subscriber)
	assert.Contains(t, got[0].payload.Text, "alice")
	assert.Equal(t, "U2", got[1].subscriber)
	assert.Contains(t, got[1].payload.Text, "bob")

	require.NoError(t, h.mon.Untrack(context.Background(), "U1", a1.String()))
	assert.Equal(t, []string{a1.String()}, h.mon.Watching())

	h.chain.Emit(a1.String(), "S2", transferTx("S2", a1, 1_000_000, false))
	require.Eventually(t, func() bool { return h.delivery.count() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "U2", h.delivery.all()[2].subscriber)

	stats, err := h.mon.Stats(context.Background(), a1.String())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TransactionCount)
	assert.True(t, stats.Watching)
	assert.Equal(t, 1, stats.Subscribers)
	require.Len(t, stats.Holdings, 1)
}

func TestMonitor_Resubscribes(t *testing.T) {
	h := newHarness(t, nil)
	a1 := st.NewKey()
	h.track(t, "U1", a1.String(), "")

	h.chain.EndStreams(a1.String())
	require.Eventually(t, func() bool {
		return h.chain.subscribeCount(a1.String()) == 2 && h.chain.liveSubscriptions(a1.String()) == 1
	}, 2*time.Second, time.Millisecond)

	h.chain.Emit(a1.String(), "S1", transferTx("S1", a1, 1_000_000, false))
	require.Eventually(t, func() bool { return h.delivery.count() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestMonitor_TrackErrors(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.mon.Track(ctx, "U1", "not-an-address", "")
	assert.ErrorIs(t, err, solana.ErrInvalidAddress)
	all, err := h.store.ListAllAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, all, "invalid address mutates nothing")

	a1 := st.NewKey()
	acct, err := h.mon.Track(ctx, "U1", a1.String(), "")
	require.NoError(t, err)
	assert.Equal(t, a1.String(), acct.Label, "label defaults to the address")

	_, err = h.mon.Track(ctx, "U1", a1.String(), "again")
	assert.ErrorIs(t, err, ledger.ErrAccountExists)

	err = h.mon.Untrack(ctx, "U2", a1.String())
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, err = h.mon.Track(ctx, "", a1.String(), "")
	assert.Error(t, err)

	accounts, err := h.mon.Accounts(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
}

func TestMonitor_RunRestoresAccounts(t *testing.T) {
	store := ledger.NewMemoryStore()
	a1 := st.NewKey()
	require.NoError(t, store.AddAccount(context.Background(), ledger.TrackedAccount{
		Address: a1.String(), Label: "restored", SubscriberID: "U1", CreatedAt: time.Now().UTC(),
	}))
	h := newHarness(t, store)

	// History before start is not alerted.
	h.chain.Emit(a1.String(), "OLD", transferTx("OLD", a1, 9_000_000, false))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.mon.Run(ctx) }()

	require.Eventually(t, func() bool { return h.chain.liveSubscriptions(a1.String()) == 1 }, 2*time.Second, time.Millisecond)
	h.chain.Emit(a1.String(), "NEW", transferTx("NEW", a1, 1_000_000, false))
	require.Eventually(t, func() bool { return h.delivery.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "NEW", h.delivery.all()[0].payload.Signature)
	assert.Contains(t, h.delivery.all()[0].payload.Text, "restored")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Empty(t, h.mon.Watching())
}

type panickingClassifier struct{}

func (panickingClassifier) Classify(ctx context.Context, tx *solana.Transaction) ledger.TransactionType {
	panic("boom")
}

func TestMonitor_PanicIsContained(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	chain := newFakeChain()
	a1 := st.NewKey()
	chain.txs["S1"] = transferTx("S1", a1, 1, false)
	mon := New(chain, ledger.NewMemoryStore(), panickingClassifier{}, extract.New(chain, nil, nil, logger), &recordingDelivery{}, logger, nil)
	defer mon.Close()

	outcome, err := mon.Process(context.Background(), a1.String(), "S1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, outcome)
}
