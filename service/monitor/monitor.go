// Package monitor runs one watcher per tracked address. Each watcher turns
// account-change events into recorded, classified and delivered transactions,
// processing its own address serially while addresses run in parallel.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	solanago "github.com/gagliardetto/solana-go"

	"github.com/brojonat/solwatch/service/holdings"
	"github.com/brojonat/solwatch/service/ledger"
	"github.com/brojonat/solwatch/service/metrics"
	"github.com/brojonat/solwatch/service/notify"
	"github.com/brojonat/solwatch/service/solana"
)

// Chain is the chain client surface the monitor depends on.
type Chain interface {
	ResolveAddress(ctx context.Context, address string) (solanago.PublicKey, error)
	SubscribeAccountChanges(ctx context.Context, address string) (<-chan solana.ChangeEvent, error)
	LatestSignature(ctx context.Context, address string) (string, error)
	SignaturesSince(ctx context.Context, address, until string, pageSize int) ([]string, error)
	GetTransaction(ctx context.Context, signature string) (*solana.Transaction, error)
}

// Classifier assigns a type to a transaction.
type Classifier interface {
	Classify(ctx context.Context, tx *solana.Transaction) ledger.TransactionType
}

// Extractor derives details from a classified transaction.
type Extractor interface {
	Extract(ctx context.Context, address string, tx *solana.Transaction, typ ledger.TransactionType) (ledger.Details, error)
}

// Config tunes watcher behaviour. Zero values take defaults.
type Config struct {
	// QueueSize bounds the per-address event queue. Overflowing events are
	// dropped; the next processed event picks up everything past the cursor.
	QueueSize int

	// PageSize is the signature page size used when catching up.
	PageSize int

	// ExtractAttempts and ExtractBackoff bound retries of extraction
	// failures (missing mint scale).
	ExtractAttempts int
	ExtractBackoff  time.Duration

	// ResubscribeBackoff and MaxResubscribeBackoff bound the delay before a
	// dropped subscription is re-established.
	ResubscribeBackoff    time.Duration
	MaxResubscribeBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.ExtractAttempts <= 0 {
		c.ExtractAttempts = 3
	}
	if c.ExtractBackoff <= 0 {
		c.ExtractBackoff = 500 * time.Millisecond
	}
	if c.ResubscribeBackoff <= 0 {
		c.ResubscribeBackoff = time.Second
	}
	if c.MaxResubscribeBackoff <= 0 {
		c.MaxResubscribeBackoff = 30 * time.Second
	}
	return c
}

// Outcome is the result of processing one signature.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDropped   Outcome = "dropped"
)

// Stats summarises an address.
type Stats struct {
	Address          string           `json:"address"`
	TransactionCount int64            `json:"transactionCount"`
	Holdings         []ledger.Holding `json:"holdings"`
	Watching         bool             `json:"watching"`
	Subscribers      int              `json:"subscribers"`
}

// Monitor owns the set of watchers.
type Monitor struct {
	chain      Chain
	store      ledger.Store
	classifier Classifier
	extractor  Extractor
	holdings   *holdings.Updater
	formatter  notify.Formatter
	delivery   notify.Delivery
	logger     *slog.Logger
	metrics    *metrics.Metrics
	cfg        Config
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	watchers map[string]*watcher
	root     context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithConfig sets watcher tuning.
func WithConfig(cfg Config) Option {
	return func(m *Monitor) { m.cfg = cfg.withDefaults() }
}

// WithFormatter sets the alert formatter.
func WithFormatter(f notify.Formatter) Option {
	return func(m *Monitor) { m.formatter = f }
}

// WithClock overrides the time source used when a transaction has no block time.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithSleep overrides the backoff sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Monitor) { m.sleep = fn }
}

// New creates a Monitor. Watchers start on Track or Run.
func New(
	chain Chain,
	store ledger.Store,
	classifier Classifier,
	extractor Extractor,
	delivery notify.Delivery,
	logger *slog.Logger,
	m *metrics.Metrics,
	opts ...Option,
) *Monitor {
	root, stop := context.WithCancel(context.Background())
	mon := &Monitor{
		chain:      chain,
		store:      store,
		classifier: classifier,
		extractor:  extractor,
		holdings:   holdings.NewUpdater(store, logger),
		formatter:  notify.Formatter{ExplorerURL: notify.DefaultExplorerURL},
		delivery:   delivery,
		logger:     logger,
		metrics:    m,
		cfg:        Config{}.withDefaults(),
		now:        time.Now,
		sleep:      sleepContext,
		watchers:   make(map[string]*watcher),
		root:       root,
		stop:       stop,
	}
	for _, opt := range opts {
		opt(mon)
	}
	return mon
}

// Track registers address for subscriberID and starts (or joins) its watcher.
// An empty label defaults to the address.
func (m *Monitor) Track(ctx context.Context, subscriberID, address, label string) (ledger.TrackedAccount, error) {
	if subscriberID == "" {
		return ledger.TrackedAccount{}, errors.New("subscriber id is required")
	}
	pk, err := m.chain.ResolveAddress(ctx, address)
	if err != nil {
		return ledger.TrackedAccount{}, err
	}
	address = pk.String()
	if label == "" {
		label = address
	}

	account := ledger.TrackedAccount{
		Address:      address,
		Label:        label,
		SubscriberID: subscriberID,
		CreatedAt:    m.now().UTC(),
	}
	if err := m.store.AddAccount(ctx, account); err != nil {
		return ledger.TrackedAccount{}, err
	}

	if err := m.attach(ctx, account); err != nil {
		if rerr := m.store.RemoveAccount(ctx, address, subscriberID); rerr != nil {
			m.logger.ErrorContext(ctx, "failed to roll back account after attach error",
				"address", address,
				"subscriber", subscriberID,
				"error", rerr,
			)
		}
		return ledger.TrackedAccount{}, fmt.Errorf("failed to start watcher for %s: %w", address, err)
	}

	m.logger.InfoContext(ctx, "account tracked",
		"address", address,
		"subscriber", subscriberID,
		"label", label,
	)
	return account, nil
}

// Untrack removes subscriberID from address. The watcher stops when its last
// subscriber leaves; an event already being processed runs to completion.
func (m *Monitor) Untrack(ctx context.Context, subscriberID, address string) error {
	pk, err := m.chain.ResolveAddress(ctx, address)
	if err != nil {
		return err
	}
	address = pk.String()

	if err := m.store.RemoveAccount(ctx, address, subscriberID); err != nil {
		return err
	}

	m.mu.Lock()
	w, ok := m.watchers[address]
	var stopped *watcher
	if ok {
		delete(w.subscribers, subscriberID)
		if len(w.subscribers) == 0 {
			delete(m.watchers, address)
			stopped = w
		}
	}
	m.mu.Unlock()

	if stopped != nil {
		stopped.cancel()
		if m.metrics != nil {
			m.metrics.RecordWatcherChange(-1)
		}
	}

	m.logger.InfoContext(ctx, "account untracked",
		"address", address,
		"subscriber", subscriberID,
		"watcher_stopped", stopped != nil,
	)
	return nil
}

// Accounts lists the accounts subscriberID tracks.
func (m *Monitor) Accounts(ctx context.Context, subscriberID string) ([]ledger.TrackedAccount, error) {
	return m.store.ListAccounts(ctx, subscriberID)
}

// Stats returns the transaction count and holdings of address.
func (m *Monitor) Stats(ctx context.Context, address string) (Stats, error) {
	pk, err := m.chain.ResolveAddress(ctx, address)
	if err != nil {
		return Stats{}, err
	}
	address = pk.String()

	count, err := m.store.CountTransactions(ctx, address)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count transactions: %w", err)
	}
	list, err := m.store.ListHoldings(ctx, address)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list holdings: %w", err)
	}

	stats := Stats{Address: address, TransactionCount: count, Holdings: list}
	m.mu.Lock()
	if w, ok := m.watchers[address]; ok {
		stats.Watching = true
		stats.Subscribers = len(w.subscribers)
	}
	m.mu.Unlock()
	return stats, nil
}

// Transactions lists the newest limit records for address.
func (m *Monitor) Transactions(ctx context.Context, address string, limit int) ([]ledger.TransactionRecord, error) {
	pk, err := m.chain.ResolveAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	return m.store.ListTransactions(ctx, pk.String(), limit)
}

// Watching lists the addresses with a live watcher, sorted.
func (m *Monitor) Watching() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.watchers))
	for addr := range m.watchers {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Run restores watchers for every persisted account, then blocks until ctx
// is cancelled and all watchers have stopped.
func (m *Monitor) Run(ctx context.Context) error {
	accounts, err := m.store.ListAllAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tracked accounts: %w", err)
	}

	restored := 0
	for _, account := range accounts {
		if err := m.attach(ctx, account); err != nil {
			m.logger.ErrorContext(ctx, "failed to restore watcher",
				"address", account.Address,
				"subscriber", account.SubscriberID,
				"error", err,
			)
			continue
		}
		restored++
	}
	m.logger.InfoContext(ctx, "monitor started",
		"accounts", len(accounts),
		"restored", restored,
		"watchers", len(m.Watching()),
	)

	<-ctx.Done()
	m.Close()
	m.logger.Info("monitor stopped")
	return nil
}

// Close stops every watcher and waits for in-flight events to finish.
func (m *Monitor) Close() {
	m.mu.Lock()
	n := len(m.watchers)
	m.watchers = make(map[string]*watcher)
	m.mu.Unlock()

	m.stop()
	m.wg.Wait()
	if m.metrics != nil && n > 0 {
		m.metrics.RecordWatcherChange(-float64(n))
	}
}

// Process handles one signature for address outside the event stream. It
// goes through the same dedup, commit and delivery path as watcher events.
func (m *Monitor) Process(ctx context.Context, address, signature string) (Outcome, error) {
	pk, err := m.chain.ResolveAddress(ctx, address)
	if err != nil {
		return "", err
	}
	address = pk.String()
	return m.processSignature(ctx, address, signature, m.subscribers(address))
}

// subscribers snapshots the subscriber labels for address.
func (m *Monitor) subscribers(address string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watchers[address]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(w.subscribers))
	for id, label := range w.subscribers {
		out[id] = label
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
