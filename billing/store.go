/*
store.go - Persistence interface for bills, bill items and their collaborators

PURPOSE:
  Defines the narrow interface between the billing engine and the database.
  Implementations: store/sqldb (SQLite, Postgres) and billing/store (memory).

KEY INTERFACES:
  Store:   Point lookups, predicate lookups with limits, insert/update/delete
  TxStore: Store plus WithTx for atomic units of work

SERIALIZATION:
  A bill is identified by (account, period start). Implementations must:
  - Reject a second bill for the same key (ErrDuplicateBill)
  - Lock the bill row returned by FindBill until the unit of work ends,
    where the backend supports row locks
  - Apply AddToBillTotal as one atomic increment and return the new total

  Together these make concurrent allocations into the same period
  serialize on the bill instead of losing updates.
*/
package billing

import (
	"context"
	"time"
)

// Store handles persistence of billing state.
type Store interface {
	// Accounts (read side of the accounts collaborator)
	GetAccount(ctx context.Context, id AccountID) (*Account, error)
	SaveAccount(ctx context.Context, account Account) error

	// Transactions (record of the transactions collaborator)
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	SaveTransaction(ctx context.Context, tx Transaction) error
	DeleteTransaction(ctx context.Context, id TransactionID) error

	// FindBill returns the bill of account starting at start, or nil if none.
	FindBill(ctx context.Context, accountID AccountID, start time.Time) (*Bill, error)
	GetBill(ctx context.Context, id BillID) (*Bill, error)
	ListBillsByAccount(ctx context.Context, accountID AccountID) ([]Bill, error)
	InsertBill(ctx context.Context, bill Bill) error
	DeleteBill(ctx context.Context, id BillID) error

	// AddToBillTotal atomically adds delta to the bill total and returns the
	// new total.
	AddToBillTotal(ctx context.Context, id BillID, delta Money) (Money, error)

	InsertBillItem(ctx context.Context, item BillItem) error
	DeleteBillItem(ctx context.Context, id BillItemID) error
	ItemsByTransaction(ctx context.Context, txID TransactionID) ([]BillItem, error)
	ItemsByBill(ctx context.Context, billID BillID) ([]BillItem, error)
	CountBillItems(ctx context.Context, billID BillID) (int, error)

	// BillsForTransition returns up to limit bills in status whose date
	// column (end date for OPEN, due date for CLOSED) is strictly before
	// the given date, oldest first.
	BillsForTransition(ctx context.Context, status Status, before time.Time, limit int) ([]Bill, error)

	// UpdateBillStatuses moves the given bills from one status to another.
	// Bills no longer in status from are left alone. Returns rows changed.
	UpdateBillStatuses(ctx context.Context, ids []BillID, from, to Status) (int64, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
