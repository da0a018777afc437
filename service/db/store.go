// Package db provides SQL implementations of ledger.Store: PostgresStore on
// pgx and SQLiteStore on database/sql with the pure-Go modernc driver.
package db

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brojonat/solwatch/service/ledger"
	"github.com/brojonat/solwatch/service/metrics"
)

// scanner is satisfied by pgx.Row(s) and *sql.Row(s).
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (ledger.TrackedAccount, error) {
	var a ledger.TrackedAccount
	var created time.Time
	if err := row.Scan(&a.Address, &a.SubscriberID, &a.Label, &created); err != nil {
		return ledger.TrackedAccount{}, err
	}
	a.CreatedAt = created.UTC()
	return a, nil
}

func scanRecord(row scanner) (ledger.TransactionRecord, error) {
	var (
		r       ledger.TransactionRecord
		typ     string
		details []byte
		slot    int64
	)
	if err := row.Scan(&r.Address, &r.Signature, &slot, &typ, &details, &r.ObservedAt); err != nil {
		return ledger.TransactionRecord{}, err
	}
	if err := json.Unmarshal(details, &r.Details); err != nil {
		return ledger.TransactionRecord{}, fmt.Errorf("failed to decode details of %s: %w", r.Signature, err)
	}
	r.Slot = uint64(slot)
	r.Type = ledger.TransactionType(typ)
	r.ObservedAt = r.ObservedAt.UTC()
	return r, nil
}

func scanHolding(row scanner) (ledger.Holding, error) {
	var (
		h      ledger.Holding
		amount string
	)
	if err := row.Scan(&h.Address, &h.Token, &amount, &h.UpdatedAt); err != nil {
		return ledger.Holding{}, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return ledger.Holding{}, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	h.Amount = d
	h.UpdatedAt = h.UpdatedAt.UTC()
	return h, nil
}

func encodeDetails(d ledger.Details) ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode details: %w", err)
	}
	return b, nil
}

// observe times a store operation for the ledger metrics.
func observe(m *metrics.Metrics, backend, op string) func(err error) {
	start := time.Now()
	return func(err error) {
		if m != nil {
			m.RecordLedgerOp(op, backend, time.Since(start).Seconds(), err)
		}
	}
}
