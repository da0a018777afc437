package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brojonat/solwatch/service/ledger"
	"github.com/brojonat/solwatch/service/metrics"
	"github.com/brojonat/solwatch/service/solana"
)

// watcher is the per-address unit. subscribers is guarded by Monitor.mu;
// cursor is owned by the worker goroutine.
type watcher struct {
	address     string
	subscribers map[string]string // subscriber id -> label
	cancel      context.CancelFunc
	queue       chan solana.ChangeEvent
	cursor      string
}

// attach adds account's subscriber to the address watcher, starting the
// watcher if this is the first subscriber.
func (m *Monitor) attach(ctx context.Context, account ledger.TrackedAccount) error {
	if m.join(account) {
		return nil
	}

	// Everything up to the current head is history; only newer signatures alert.
	cursor, err := m.chain.LatestSignature(ctx, account.Address)
	if err != nil {
		return fmt.Errorf("failed to read latest signature: %w", err)
	}

	m.mu.Lock()
	if w, ok := m.watchers[account.Address]; ok {
		w.subscribers[account.SubscriberID] = account.Label
		m.mu.Unlock()
		return nil
	}
	wctx, cancel := context.WithCancel(m.root)
	w := &watcher{
		address:     account.Address,
		subscribers: map[string]string{account.SubscriberID: account.Label},
		cancel:      cancel,
		queue:       make(chan solana.ChangeEvent, m.cfg.QueueSize),
		cursor:      cursor,
	}
	m.watchers[account.Address] = w
	m.wg.Add(1)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordWatcherChange(1)
	}
	m.logger.DebugContext(ctx, "watcher started", "address", w.address, "cursor", cursor)

	go m.runWatcher(wctx, w)
	return nil
}

func (m *Monitor) join(account ledger.TrackedAccount) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watchers[account.Address]
	if ok {
		w.subscribers[account.SubscriberID] = account.Label
	}
	return ok
}

func (m *Monitor) runWatcher(ctx context.Context, w *watcher) {
	defer m.wg.Done()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m.subscribeLoop(gctx, w)
		return nil
	})
	g.Go(func() error {
		m.workLoop(gctx, w)
		return nil
	})
	_ = g.Wait()

	m.logger.Debug("watcher stopped", "address", w.address)
}

// subscribeLoop feeds the queue and re-establishes the subscription with
// backoff whenever the stream ends while the watcher is live.
func (m *Monitor) subscribeLoop(ctx context.Context, w *watcher) {
	backoff := m.cfg.ResubscribeBackoff
	retry := func() bool {
		if err := m.sleep(ctx, backoff); err != nil {
			return false
		}
		backoff = min(backoff*2, m.cfg.MaxResubscribeBackoff)
		return true
	}

	for {
		events, err := m.chain.SubscribeAccountChanges(ctx, w.address)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.WarnContext(ctx, "subscribe failed",
				"address", w.address,
				"backoff", backoff,
				"error", err,
			)
			if !retry() {
				return
			}
			continue
		}

		for ev := range events {
			backoff = m.cfg.ResubscribeBackoff
			if ev.Address != w.address {
				m.logger.WarnContext(ctx, "ignoring event for another address",
					"address", w.address,
					"event_address", ev.Address,
				)
				continue
			}
			select {
			case w.queue <- ev:
				m.recordEvent(metrics.EventReceived)
			default:
				m.recordEvent(metrics.EventDropped)
				m.logger.DebugContext(ctx, "event queue full, dropping event",
					"address", w.address,
					"slot", ev.Slot,
				)
			}
		}

		if ctx.Err() != nil {
			return
		}
		if m.metrics != nil {
			m.metrics.RecordSubscriptionReconnect("stream")
		}
		m.logger.WarnContext(ctx, "subscription ended, resubscribing",
			"address", w.address,
			"backoff", backoff,
		)
		if !retry() {
			return
		}
	}
}

func (m *Monitor) workLoop(ctx context.Context, w *watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.queue:
			if ctx.Err() != nil {
				return
			}
			subs := m.subscribers(w.address)
			if ctx.Err() != nil {
				return
			}
			// The dequeued event finishes even if the watcher is cancelled now.
			m.processBatch(context.WithoutCancel(ctx), w, ev, subs)
		}
	}
}

// processBatch handles everything newer than the cursor, oldest first. The
// cursor moves past a signature once it is committed or deliberately
// dropped; a ledger failure stops the batch so the next event retries it.
func (m *Monitor) processBatch(ctx context.Context, w *watcher, ev solana.ChangeEvent, subs map[string]string) {
	sigs, err := m.chain.SignaturesSince(ctx, w.address, w.cursor, m.cfg.PageSize)
	if err != nil {
		m.recordEvent(metrics.EventError)
		m.logger.WarnContext(ctx, "failed to list signatures",
			"address", w.address,
			"slot", ev.Slot,
			"error", err,
		)
		return
	}
	if len(sigs) == 0 {
		m.recordEvent(metrics.EventEmpty)
		m.logger.DebugContext(ctx, "no new signatures for event",
			"address", w.address,
			"slot", ev.Slot,
		)
		return
	}
	m.recordEvent(metrics.EventProcessed)

	for _, sig := range sigs {
		outcome, err := m.processSignature(ctx, w.address, sig, subs)
		if err != nil {
			m.logger.ErrorContext(ctx, "ledger write failed, stopping batch",
				"address", w.address,
				"signature", sig,
				"error", err,
			)
			return
		}
		w.cursor = sig
		m.logger.DebugContext(ctx, "signature processed",
			"address", w.address,
			"signature", sig,
			"outcome", outcome,
		)
	}
}

// processSignature runs dedup, fetch, classify, extract, commit and deliver
// for one signature. A non-nil error means the ledger could not be read or
// written and the signature is still unprocessed.
func (m *Monitor) processSignature(ctx context.Context, address, signature string, subs map[string]string) (outcome Outcome, err error) {
	start := time.Now()
	txType := ledger.TypeUnknown

	defer func() {
		if r := recover(); r != nil {
			m.logger.ErrorContext(ctx, "panic while processing transaction",
				"address", address,
				"signature", signature,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			if m.metrics != nil {
				m.metrics.RecordPanic("monitor")
			}
			outcome, err = OutcomeDropped, nil
		}
		if m.metrics != nil {
			label := string(outcome)
			if err != nil {
				label = "failed"
			}
			m.metrics.RecordTransactionProcessed(string(txType), label, time.Since(start).Seconds())
		}
	}()

	seen, err := m.store.HasTransaction(ctx, address, signature)
	if err != nil {
		return "", fmt.Errorf("failed to check ledger: %w", err)
	}
	if seen {
		m.logger.DebugContext(ctx, "transaction already recorded",
			"address", address,
			"signature", signature,
		)
		return OutcomeDuplicate, nil
	}

	tx, err := m.chain.GetTransaction(ctx, signature)
	if err != nil {
		m.logger.WarnContext(ctx, "dropping transaction after fetch failure",
			"address", address,
			"signature", signature,
			"not_found", errors.Is(err, solana.ErrTransactionNotFound),
			"error", err,
		)
		return OutcomeDropped, nil
	}

	txType = m.classifier.Classify(ctx, tx)

	details, err := m.extract(ctx, address, tx, txType)
	if err != nil {
		m.logger.WarnContext(ctx, "dropping transaction after extraction failure",
			"address", address,
			"signature", signature,
			"type", txType,
			"error", err,
		)
		return OutcomeDropped, nil
	}

	observed := m.now().UTC()
	if tx.BlockTime != nil {
		observed = tx.BlockTime.UTC()
	}
	record := ledger.TransactionRecord{
		Address:    address,
		Signature:  signature,
		Slot:       tx.Slot,
		Type:       txType,
		Details:    details,
		ObservedAt: observed,
	}

	if _, err := m.holdings.Commit(ctx, record); err != nil {
		if errors.Is(err, ledger.ErrDuplicateTransaction) {
			return OutcomeDuplicate, nil
		}
		return "", err
	}

	m.deliver(ctx, record, subs)

	m.logger.InfoContext(ctx, "transaction recorded",
		"address", address,
		"signature", signature,
		"type", txType,
		"amount", details.Amount.String(),
		"token", details.Token,
		"subscribers", len(subs),
	)
	return OutcomeDelivered, nil
}

func (m *Monitor) extract(ctx context.Context, address string, tx *solana.Transaction, typ ledger.TransactionType) (ledger.Details, error) {
	backoff := m.cfg.ExtractBackoff
	var lastErr error
	for attempt := 1; attempt <= m.cfg.ExtractAttempts; attempt++ {
		details, err := m.extractor.Extract(ctx, address, tx, typ)
		if err == nil {
			return details, nil
		}
		lastErr = err
		if attempt == m.cfg.ExtractAttempts {
			break
		}
		m.logger.WarnContext(ctx, "extraction failed, retrying",
			"signature", tx.Signature,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if err := m.sleep(ctx, backoff); err != nil {
			return ledger.Details{}, err
		}
		backoff *= 2
	}
	return ledger.Details{}, fmt.Errorf("extraction failed after %d attempts: %w", m.cfg.ExtractAttempts, lastErr)
}

// deliver formats and sends one alert per subscriber. Delivery failures are
// logged; the record is already committed.
func (m *Monitor) deliver(ctx context.Context, record ledger.TransactionRecord, subs map[string]string) {
	if m.delivery == nil || len(subs) == 0 {
		return
	}
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		payload := m.formatter.Format(record.Address, subs[id], record.Type, record.Details, record.Signature, record.ObservedAt)
		if err := m.delivery.Deliver(ctx, id, payload); err != nil {
			m.logger.WarnContext(ctx, "alert delivery failed",
				"address", record.Address,
				"signature", record.Signature,
				"subscriber", id,
				"error", err,
			)
		}
	}
}

func (m *Monitor) recordEvent(outcome string) {
	if m.metrics != nil {
		m.metrics.RecordChangeEvent(outcome)
	}
}
