package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/brojonat/solwatch/service/ledger"
	"github.com/brojonat/solwatch/service/metrics"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS tracked_accounts (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		address       TEXT NOT NULL,
		subscriber_id TEXT NOT NULL,
		label         TEXT NOT NULL,
		created_at    TEXT NOT NULL,
		UNIQUE (address, subscriber_id)
	)`,
	`CREATE TABLE IF NOT EXISTS transaction_records (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		address     TEXT NOT NULL,
		signature   TEXT NOT NULL,
		slot        INTEGER NOT NULL,
		type        TEXT NOT NULL,
		details     TEXT NOT NULL,
		observed_at TEXT NOT NULL,
		UNIQUE (address, signature)
	)`,
	`CREATE INDEX IF NOT EXISTS transaction_records_address_idx ON transaction_records (address, id)`,
	`CREATE TABLE IF NOT EXISTS holdings (
		address    TEXT NOT NULL,
		token      TEXT NOT NULL,
		amount     TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (address, token)
	)`,
}

// SQLiteStore is a ledger.Store on a single SQLite file.
type SQLiteStore struct {
	db      *sql.DB
	metrics *metrics.Metrics
}

var _ ledger.Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLiteStore(path string, m *metrics.Metrics) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("db path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return &SQLiteStore{db: db, metrics: m}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteTime is how timestamps are stored: fixed-width UTC so text order is
// time order.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

// timeText scans a stored timestamp.
type timeText struct {
	t *time.Time
}

func (tt timeText) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("unexpected timestamp type %T", src)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	*tt.t = t
	return nil
}

// sqlRowScanner adapts timestamp columns so the shared scan helpers can
// fill time.Time fields from TEXT.
type sqlRowScanner struct {
	row scanner
}

func (r sqlRowScanner) Scan(dest ...any) error {
	adapted := make([]any, len(dest))
	for i, d := range dest {
		if tp, ok := d.(*time.Time); ok {
			adapted[i] = timeText{t: tp}
			continue
		}
		adapted[i] = d
	}
	return r.row.Scan(adapted...)
}

func (s *SQLiteStore) ListAccounts(ctx context.Context, subscriberID string) (out []ledger.TrackedAccount, err error) {
	done := observe(s.metrics, "sqlite", "list_accounts")
	defer func() { done(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT address, subscriber_id, label, created_at
		FROM tracked_accounts WHERE subscriber_id = ? ORDER BY id`, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return collectSQLAccounts(rows)
}

func (s *SQLiteStore) ListAllAccounts(ctx context.Context) (out []ledger.TrackedAccount, err error) {
	done := observe(s.metrics, "sqlite", "list_all_accounts")
	defer func() { done(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT address, subscriber_id, label, created_at
		FROM tracked_accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return collectSQLAccounts(rows)
}

func collectSQLAccounts(rows *sql.Rows) ([]ledger.TrackedAccount, error) {
	defer rows.Close()
	out := make([]ledger.TrackedAccount, 0)
	for rows.Next() {
		a, err := scanAccount(sqlRowScanner{rows})
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddAccount(ctx context.Context, account ledger.TrackedAccount) (err error) {
	done := observe(s.metrics, "sqlite", "add_account")
	defer func() { done(err) }()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tracked_accounts (address, subscriber_id, label, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (address, subscriber_id) DO NOTHING`,
		account.Address, account.SubscriberID, account.Label, formatTime(account.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to add account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrAccountExists
	}
	return nil
}

func (s *SQLiteStore) RemoveAccount(ctx context.Context, address, subscriberID string) (err error) {
	done := observe(s.metrics, "sqlite", "remove_account")
	defer func() { done(err) }()

	res, err := s.db.ExecContext(ctx, `DELETE FROM tracked_accounts WHERE address = ? AND subscriber_id = ?`, address, subscriberID)
	if err != nil {
		return fmt.Errorf("failed to remove account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

func (s *SQLiteStore) HasTransaction(ctx context.Context, address, signature string) (ok bool, err error) {
	done := observe(s.metrics, "sqlite", "has_transaction")
	defer func() { done(err) }()

	var n int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transaction_records WHERE address = ? AND signature = ?`,
		address, signature).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check transaction: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) AppendTransaction(ctx context.Context, record ledger.TransactionRecord) (err error) {
	done := observe(s.metrics, "sqlite", "append_transaction")
	defer func() { done(err) }()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertRecordSQL(ctx, tx, record)
	})
}

func (s *SQLiteStore) RecordTransaction(ctx context.Context, record ledger.TransactionRecord, holdings []ledger.Holding) (err error) {
	done := observe(s.metrics, "sqlite", "record_transaction")
	defer func() { done(err) }()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertRecordSQL(ctx, tx, record); err != nil {
			return err
		}
		for _, h := range holdings {
			if err := upsertHoldingSQL(ctx, tx, h); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// sqlExecer is the Exec surface shared by *sql.DB and *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRecordSQL(ctx context.Context, q sqlExecer, record ledger.TransactionRecord) error {
	details, err := encodeDetails(record.Details)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO transaction_records (address, signature, slot, type, details, observed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (address, signature) DO NOTHING`,
		record.Address, record.Signature, int64(record.Slot), string(record.Type), string(details), formatTime(record.ObservedAt))
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrDuplicateTransaction
	}
	return nil
}

func upsertHoldingSQL(ctx context.Context, q sqlExecer, h ledger.Holding) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO holdings (address, token, amount, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (address, token) DO UPDATE SET amount = excluded.amount, updated_at = excluded.updated_at`,
		h.Address, h.Token, h.Amount.String(), formatTime(h.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert holding %s/%s: %w", h.Address, h.Token, err)
	}
	return nil
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, address string, limit int) (out []ledger.TransactionRecord, err error) {
	done := observe(s.metrics, "sqlite", "list_transactions")
	defer func() { done(err) }()

	query := `
		SELECT address, signature, slot, type, details, observed_at
		FROM transaction_records WHERE address = ? ORDER BY id DESC`
	args := []any{address}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	out = make([]ledger.TransactionRecord, 0)
	for rows.Next() {
		r, err := scanRecord(sqlRowScanner{rows})
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountTransactions(ctx context.Context, address string) (n int64, err error) {
	done := observe(s.metrics, "sqlite", "count_transactions")
	defer func() { done(err) }()

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transaction_records WHERE address = ?`, address).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) GetHolding(ctx context.Context, address, token string) (h ledger.Holding, err error) {
	done := observe(s.metrics, "sqlite", "get_holding")
	defer func() { done(err) }()

	row := s.db.QueryRowContext(ctx, `
		SELECT address, token, amount, updated_at
		FROM holdings WHERE address = ? AND token = ?`, address, token)
	h, err = scanHolding(sqlRowScanner{row})
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Holding{}, ledger.ErrHoldingNotFound
	}
	if err != nil {
		return ledger.Holding{}, fmt.Errorf("failed to get holding: %w", err)
	}
	return h, nil
}

func (s *SQLiteStore) PutHolding(ctx context.Context, holding ledger.Holding) (err error) {
	done := observe(s.metrics, "sqlite", "put_holding")
	defer func() { done(err) }()

	return upsertHoldingSQL(ctx, s.db, holding)
}

func (s *SQLiteStore) ListHoldings(ctx context.Context, address string) (out []ledger.Holding, err error) {
	done := observe(s.metrics, "sqlite", "list_holdings")
	defer func() { done(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT address, token, amount, updated_at
		FROM holdings WHERE address = ? ORDER BY token`, address)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	defer rows.Close()

	out = make([]ledger.Holding, 0)
	for rows.Next() {
		h, err := scanHolding(sqlRowScanner{rows})
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
