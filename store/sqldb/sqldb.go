/*
Package sqldb provides a SQL-backed implementation of billing.TxStore.

PURPOSE:
  Persists accounts, transactions, bills and bill items in SQLite (default)
  or PostgreSQL. Queries are written once with ? placeholders and rebound
  per dialect.

BACKENDS:
  sqlite3:  github.com/mattn/go-sqlite3 (cgo)
  sqlite:   modernc.org/sqlite (pure Go, for CGO_ENABLED=0 builds)
  postgres: github.com/jackc/pgx/v5/stdlib

SERIALIZATION:
  Concurrent allocations into the same (account, period) serialize on the
  bill row:
  - Unique index on bills(account_id, start_date)
  - InsertBill is INSERT ... ON CONFLICT DO NOTHING; zero rows affected
    reports billing.ErrDuplicateBill without aborting the transaction
  - FindBill selects FOR UPDATE on Postgres
  - AddToBillTotal is one UPDATE ... SET total_cents = total_cents + ?
    RETURNING total_cents

  SQLite allows one writer at a time. The pool is capped at one connection
  and transactions begin IMMEDIATE, so units of work never interleave.

KEY TABLES:
  accounts:     Local view of accounts (closing/due day, type)
  transactions: Transaction records the hooks persist
  bills:        One row per account period, total in integer cents
  bill_items:   One row per installment
  categories:   Seeded defaults (see seed.go)

USAGE:
  store, err := sqldb.Open(ctx, sqldb.SQLite3, "./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is migrated on Open() with golang-migrate and embedded SQL files
  per dialect (migrations/sqlite, migrations/postgres).

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/billing-engine/billing"
	_ "modernc.org/sqlite"
)

// execer is the subset of *sql.DB and *sql.Tx the queries need.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements billing.TxStore on database/sql.
type Store struct {
	queries
	pool *sql.DB
}

var _ billing.TxStore = (*Store)(nil)

// queries runs every statement against one execer: the pool, or the open
// transaction inside WithTx.
type queries struct {
	db      execer
	dialect Dialect
	now     func() time.Time
}

// Open opens dsn with dialect, configures the pool and migrates the schema.
// For SQLite, dsn is a file path or ":memory:".
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(dialect.Driver, connString(dialect, dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect.IsSQLite() {
		// One connection: a single writer, and ":memory:" stays one database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrateDatabase(ctx, db, dialect, dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return New(db, dialect), nil
}

// New wraps an already migrated database.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		queries: queries{db: db, dialect: dialect, now: time.Now},
		pool:    db,
	}
}

func connString(dialect Dialect, dsn string) string {
	switch dialect.Name {
	case SQLite3.Name:
		return withParams(dsn, "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	case SQLite.Name:
		return withParams(dsn, "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate")
	default:
		return dsn
	}
}

func withParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.pool.Close()
}

// DB returns the underlying pool, for collaborators that share it.
func (s *Store) DB() *sql.DB {
	return s.pool
}

// Dialect returns the backend dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Reset deletes all billing data. Categories are kept.
func (s *Store) Reset(ctx context.Context) error {
	return s.inTx(ctx, func(q *queries) error {
		for _, table := range []string{"bill_items", "bills", "transactions", "accounts"} {
			if _, err := q.exec(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	return s.inTx(ctx, func(q *queries) error { return fn(q) })
}

func (s *Store) inTx(ctx context.Context, fn func(q *queries) error) error {
	sqlTx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{db: sqlTx, dialect: s.dialect, now: s.now}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.dialect.rebind(query), args...)
}

func (q *queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, q.dialect.rebind(query), args...)
}

func (q *queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, q.dialect.rebind(query), args...)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (q *queries) GetAccount(ctx context.Context, id billing.AccountID) (*billing.Account, error) {
	var a billing.Account
	var accountType string
	err := q.queryRow(ctx, `
		SELECT id, name, type, closing_day, due_day
		FROM accounts WHERE id = ?
	`, string(id)).Scan(&a.ID, &a.Name, &accountType, &a.ClosingDay, &a.DueDay)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.AccountNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	a.Type = billing.AccountType(accountType)
	return &a, nil
}

func (q *queries) SaveAccount(ctx context.Context, a billing.Account) error {
	now := q.dialect.timeArg(q.now())
	_, err := q.exec(ctx, `
		INSERT INTO accounts (id, name, type, closing_day, due_day, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			closing_day = excluded.closing_day,
			due_day = excluded.due_day,
			updated_at = excluded.updated_at
	`, string(a.ID), a.Name, string(a.Type), a.ClosingDay, a.DueDay, now, now)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTION RECORDS
// =============================================================================

func (q *queries) GetTransaction(ctx context.Context, id billing.TransactionID) (*billing.Transaction, error) {
	var (
		tx    billing.Transaction
		cents int64
		date  dbDate
	)
	err := q.queryRow(ctx, `
		SELECT id, account_id, description, amount_cents, date, installments, add_to_bill
		FROM transactions WHERE id = ?
	`, string(id)).Scan(&tx.ID, &tx.AccountID, &tx.Description, &cents, &date, &tx.Installments, &tx.AddToBill)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.TransactionNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	tx.Amount = billing.MoneyFromCents(cents)
	tx.Date = date.Time
	return &tx, nil
}

func (q *queries) SaveTransaction(ctx context.Context, tx billing.Transaction) error {
	now := q.dialect.timeArg(q.now())
	_, err := q.exec(ctx, `
		INSERT INTO transactions (id, account_id, description, amount_cents, date, installments, add_to_bill, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			account_id = excluded.account_id,
			description = excluded.description,
			amount_cents = excluded.amount_cents,
			date = excluded.date,
			installments = excluded.installments,
			add_to_bill = excluded.add_to_bill,
			updated_at = excluded.updated_at
	`, string(tx.ID), string(tx.AccountID), tx.Description, tx.Amount.Cents(),
		q.dialect.dateArg(tx.Date), tx.Installments, tx.AddToBill, now, now)
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

func (q *queries) DeleteTransaction(ctx context.Context, id billing.TransactionID) error {
	result, err := q.exec(ctx, `DELETE FROM transactions WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return billing.TransactionNotFound(id)
	}
	return nil
}

// =============================================================================
// BILLS
// =============================================================================

const billColumns = `id, account_id, start_date, end_date, due_date, total_cents, status, created_at, updated_at`

func (q *queries) FindBill(ctx context.Context, accountID billing.AccountID, start time.Time) (*billing.Bill, error) {
	row := q.queryRow(ctx, `
		SELECT `+billColumns+`
		FROM bills WHERE account_id = ? AND start_date = ?`+q.dialect.forUpdate(),
		string(accountID), q.dialect.dateArg(start))
	bill, err := scanBill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find bill: %w", err)
	}
	return &bill, nil
}

func (q *queries) GetBill(ctx context.Context, id billing.BillID) (*billing.Bill, error) {
	row := q.queryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE id = ?`, string(id))
	bill, err := scanBill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.BillNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bill: %w", err)
	}
	return &bill, nil
}

func (q *queries) ListBillsByAccount(ctx context.Context, accountID billing.AccountID) ([]billing.Bill, error) {
	return q.queryBills(ctx, `
		SELECT `+billColumns+`
		FROM bills WHERE account_id = ?
		ORDER BY start_date
	`, string(accountID))
}

func (q *queries) InsertBill(ctx context.Context, b billing.Bill) error {
	result, err := q.exec(ctx, `
		INSERT INTO bills (`+billColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, start_date) DO NOTHING
	`, string(b.ID), string(b.AccountID),
		q.dialect.dateArg(b.StartDate), q.dialect.dateArg(b.EndDate), q.dialect.dateArg(b.DueDate),
		b.TotalAmount.Cents(), string(b.Status),
		q.dialect.timeArg(b.CreatedAt), q.dialect.timeArg(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert bill: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert bill: %w", err)
	}
	if n == 0 {
		return billing.ErrDuplicateBill
	}
	return nil
}

func (q *queries) DeleteBill(ctx context.Context, id billing.BillID) error {
	result, err := q.exec(ctx, `DELETE FROM bills WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete bill: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return billing.BillNotFound(id)
	}
	return nil
}

func (q *queries) AddToBillTotal(ctx context.Context, id billing.BillID, delta billing.Money) (billing.Money, error) {
	var total int64
	err := q.queryRow(ctx, `
		UPDATE bills
		SET total_cents = total_cents + ?, updated_at = ?
		WHERE id = ?
		RETURNING total_cents
	`, delta.Cents(), q.dialect.timeArg(q.now()), string(id)).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Money{}, billing.BillNotFound(id)
	}
	if err != nil {
		return billing.Money{}, fmt.Errorf("failed to update bill total: %w", err)
	}
	return billing.MoneyFromCents(total), nil
}

func (q *queries) BillsForTransition(ctx context.Context, status billing.Status, before time.Time, limit int) ([]billing.Bill, error) {
	column := "end_date"
	if status == billing.StatusClosed {
		column = "due_date"
	}
	return q.queryBills(ctx, `
		SELECT `+billColumns+`
		FROM bills
		WHERE status = ? AND `+column+` < ?
		ORDER BY `+column+`, id
		LIMIT ?`+q.dialect.forUpdate(),
		string(status), q.dialect.dateArg(before), limit)
}

func (q *queries) UpdateBillStatuses(ctx context.Context, ids []billing.BillID, from, to billing.Status) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+3)
	args = append(args, string(to), q.dialect.timeArg(q.now()), string(from))
	for _, id := range ids {
		args = append(args, string(id))
	}

	result, err := q.exec(ctx, `
		UPDATE bills SET status = ?, updated_at = ?
		WHERE status = ? AND id IN (`+inList(len(ids))+`)
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update bill statuses: %w", err)
	}
	return result.RowsAffected()
}

func (q *queries) queryBills(ctx context.Context, query string, args ...any) ([]billing.Bill, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}
	defer rows.Close()

	var bills []billing.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanBill(row scanner) (billing.Bill, error) {
	var (
		b                billing.Bill
		start, end, due  dbDate
		cents            int64
		status           string
		created, updated dbTime
	)
	err := row.Scan(&b.ID, &b.AccountID, &start, &end, &due, &cents, &status, &created, &updated)
	if err != nil {
		return billing.Bill{}, err
	}
	b.StartDate, b.EndDate, b.DueDate = start.Time, end.Time, due.Time
	b.TotalAmount = billing.MoneyFromCents(cents)
	if b.Status, err = parseStatus(status); err != nil {
		return billing.Bill{}, fmt.Errorf("bill %s: %w", b.ID, err)
	}
	b.CreatedAt, b.UpdatedAt = created.Time, updated.Time
	return b, nil
}

func parseStatus(s string) (billing.Status, error) {
	status := billing.Status(s)
	if !status.IsValid() {
		return "", fmt.Errorf("unknown bill status %q", s)
	}
	return status, nil
}

// =============================================================================
// BILL ITEMS
// =============================================================================

const itemColumns = `id, bill_id, transaction_id, amount_cents, installment_number, created_at`

func (q *queries) InsertBillItem(ctx context.Context, item billing.BillItem) error {
	_, err := q.exec(ctx, `
		INSERT INTO bill_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(item.ID), string(item.BillID), string(item.TransactionID),
		item.Amount.Cents(), item.InstallmentNumber, q.dialect.timeArg(item.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert bill item: %w", err)
	}
	return nil
}

func (q *queries) DeleteBillItem(ctx context.Context, id billing.BillItemID) error {
	if _, err := q.exec(ctx, `DELETE FROM bill_items WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("failed to delete bill item: %w", err)
	}
	return nil
}

func (q *queries) ItemsByTransaction(ctx context.Context, txID billing.TransactionID) ([]billing.BillItem, error) {
	return q.queryItems(ctx, `
		SELECT `+itemColumns+`
		FROM bill_items WHERE transaction_id = ?
		ORDER BY installment_number, id
	`, string(txID))
}

func (q *queries) ItemsByBill(ctx context.Context, billID billing.BillID) ([]billing.BillItem, error) {
	return q.queryItems(ctx, `
		SELECT `+itemColumns+`
		FROM bill_items WHERE bill_id = ?
		ORDER BY installment_number, id
	`, string(billID))
}

func (q *queries) CountBillItems(ctx context.Context, billID billing.BillID) (int, error) {
	var n int
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM bill_items WHERE bill_id = ?`, string(billID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count bill items: %w", err)
	}
	return n, nil
}

func (q *queries) queryItems(ctx context.Context, query string, args ...any) ([]billing.BillItem, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bill items: %w", err)
	}
	defer rows.Close()

	var items []billing.BillItem
	for rows.Next() {
		var (
			item    billing.BillItem
			cents   int64
			created dbTime
		)
		if err := rows.Scan(&item.ID, &item.BillID, &item.TransactionID, &cents, &item.InstallmentNumber, &created); err != nil {
			return nil, fmt.Errorf("failed to scan bill item: %w", err)
		}
		item.Amount = billing.MoneyFromCents(cents)
		item.CreatedAt = created.Time
		items = append(items, item)
	}
	return items, rows.Err()
}
