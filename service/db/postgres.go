package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brojonat/solwatch/service/ledger"
	"github.com/brojonat/solwatch/service/metrics"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tracked_accounts (
	id            BIGSERIAL PRIMARY KEY,
	address       TEXT NOT NULL,
	subscriber_id TEXT NOT NULL,
	label         TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	UNIQUE (address, subscriber_id)
);

CREATE TABLE IF NOT EXISTS transaction_records (
	id          BIGSERIAL PRIMARY KEY,
	address     TEXT NOT NULL,
	signature   TEXT NOT NULL,
	slot        BIGINT NOT NULL,
	type        TEXT NOT NULL,
	details     JSONB NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL,
	UNIQUE (address, signature)
);

CREATE INDEX IF NOT EXISTS transaction_records_address_idx ON transaction_records (address, id DESC);

CREATE TABLE IF NOT EXISTS holdings (
	address    TEXT NOT NULL,
	token      TEXT NOT NULL,
	amount     NUMERIC NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (address, token)
);
`

// PostgresStore is a ledger.Store on PostgreSQL.
type PostgresStore struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

var _ ledger.Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over pool. Call Migrate before use.
func NewPostgresStore(pool *pgxpool.Pool, m *metrics.Metrics) *PostgresStore {
	return &PostgresStore{pool: pool, metrics: m}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context, subscriberID string) (out []ledger.TrackedAccount, err error) {
	done := observe(s.metrics, "postgres", "list_accounts")
	defer func() { done(err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT address, subscriber_id, label, created_at
		FROM tracked_accounts WHERE subscriber_id = $1 ORDER BY id`, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return collectAccounts(rows)
}

func (s *PostgresStore) ListAllAccounts(ctx context.Context) (out []ledger.TrackedAccount, err error) {
	done := observe(s.metrics, "postgres", "list_all_accounts")
	defer func() { done(err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT address, subscriber_id, label, created_at
		FROM tracked_accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return collectAccounts(rows)
}

func collectAccounts(rows pgx.Rows) ([]ledger.TrackedAccount, error) {
	defer rows.Close()
	out := make([]ledger.TrackedAccount, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddAccount(ctx context.Context, account ledger.TrackedAccount) (err error) {
	done := observe(s.metrics, "postgres", "add_account")
	defer func() { done(err) }()

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO tracked_accounts (address, subscriber_id, label, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address, subscriber_id) DO NOTHING`,
		account.Address, account.SubscriberID, account.Label, account.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrAccountExists
	}
	return nil
}

func (s *PostgresStore) RemoveAccount(ctx context.Context, address, subscriberID string) (err error) {
	done := observe(s.metrics, "postgres", "remove_account")
	defer func() { done(err) }()

	tag, err := s.pool.Exec(ctx, `DELETE FROM tracked_accounts WHERE address = $1 AND subscriber_id = $2`, address, subscriberID)
	if err != nil {
		return fmt.Errorf("failed to remove account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

func (s *PostgresStore) HasTransaction(ctx context.Context, address, signature string) (ok bool, err error) {
	done := observe(s.metrics, "postgres", "has_transaction")
	defer func() { done(err) }()

	err = s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM transaction_records WHERE address = $1 AND signature = $2)`,
		address, signature).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check transaction: %w", err)
	}
	return ok, nil
}

func (s *PostgresStore) AppendTransaction(ctx context.Context, record ledger.TransactionRecord) (err error) {
	done := observe(s.metrics, "postgres", "append_transaction")
	defer func() { done(err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertRecordPG(ctx, tx, record); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) RecordTransaction(ctx context.Context, record ledger.TransactionRecord, holdings []ledger.Holding) (err error) {
	done := observe(s.metrics, "postgres", "record_transaction")
	defer func() { done(err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertRecordPG(ctx, tx, record); err != nil {
		return err
	}
	for _, h := range holdings {
		if err := upsertHoldingPG(ctx, tx, h); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// pgExecer is the Exec surface shared by the pool and a transaction.
type pgExecer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertRecordPG(ctx context.Context, tx pgExecer, record ledger.TransactionRecord) error {
	details, err := encodeDetails(record.Details)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO transaction_records (address, signature, slot, type, details, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address, signature) DO NOTHING`,
		record.Address, record.Signature, int64(record.Slot), string(record.Type), details, record.ObservedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrDuplicateTransaction
	}
	return nil
}

func upsertHoldingPG(ctx context.Context, q pgExecer, h ledger.Holding) error {
	_, err := q.Exec(ctx, `
		INSERT INTO holdings (address, token, amount, updated_at)
		VALUES ($1, $2, $3::text::numeric, $4)
		ON CONFLICT (address, token) DO UPDATE SET amount = EXCLUDED.amount, updated_at = EXCLUDED.updated_at`,
		h.Address, h.Token, h.Amount.String(), h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert holding %s/%s: %w", h.Address, h.Token, err)
	}
	return nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, address string, limit int) (out []ledger.TransactionRecord, err error) {
	done := observe(s.metrics, "postgres", "list_transactions")
	defer func() { done(err) }()

	query := `
		SELECT address, signature, slot, type, details, observed_at
		FROM transaction_records WHERE address = $1 ORDER BY id DESC`
	args := []any{address}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	out = make([]ledger.TransactionRecord, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountTransactions(ctx context.Context, address string) (n int64, err error) {
	done := observe(s.metrics, "postgres", "count_transactions")
	defer func() { done(err) }()

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transaction_records WHERE address = $1`, address).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) GetHolding(ctx context.Context, address, token string) (h ledger.Holding, err error) {
	done := observe(s.metrics, "postgres", "get_holding")
	defer func() { done(err) }()

	row := s.pool.QueryRow(ctx, `
		SELECT address, token, amount::text, updated_at
		FROM holdings WHERE address = $1 AND token = $2`, address, token)
	h, err = scanHolding(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Holding{}, ledger.ErrHoldingNotFound
	}
	if err != nil {
		return ledger.Holding{}, fmt.Errorf("failed to get holding: %w", err)
	}
	return h, nil
}

func (s *PostgresStore) PutHolding(ctx context.Context, holding ledger.Holding) (err error) {
	done := observe(s.metrics, "postgres", "put_holding")
	defer func() { done(err) }()

	return upsertHoldingPG(ctx, s.pool, holding)
}

func (s *PostgresStore) ListHoldings(ctx context.Context, address string) (out []ledger.Holding, err error) {
	done := observe(s.metrics, "postgres", "list_holdings")
	defer func() { done(err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT address, token, amount::text, updated_at
		FROM holdings WHERE address = $1 ORDER BY token`, address)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	defer rows.Close()

	out = make([]ledger.Holding, 0)
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
