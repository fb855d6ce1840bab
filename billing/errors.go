/*
errors.go - Centralized error types for the billing engine

ERROR CATEGORIES:
  1. Not-found errors - Missing account, bill or transaction references
  2. Business-rule errors - Transactions that cannot be allocated
  3. Invariant errors - Ledger state that must never be committed
  4. Sweep errors - Failures inside one batch status run

USAGE:
  Callers test with errors.Is / errors.As:

    if billing.IsNotFound(err) {
        // 404
    }

    var sweepErr *billing.SweepError
    if errors.As(err, &sweepErr) {
        log.Printf("page %d of %s failed", sweepErr.Page, sweepErr.Transition)
    }
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrBillNotFound        = errors.New("bill not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInvalidTransaction is returned when a billable transaction has a
	// non-positive amount or an installment count below one.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrAlreadyAllocated is returned when allocating a transaction that
	// still has items. Re-allocation must revert first.
	ErrAlreadyAllocated = errors.New("transaction already allocated")

	// ErrAmountOutOfRange is returned for amounts, or bill totals, whose
	// cents do not fit in an int64.
	ErrAmountOutOfRange = errors.New("amount out of range")

	// ErrNegativeTotal is returned when a delta would make a bill total
	// negative. The unit of work is rolled back.
	ErrNegativeTotal = errors.New("bill total would become negative")

	// ErrDuplicateTransaction is returned when creating a transaction whose
	// ID is already stored.
	ErrDuplicateTransaction = errors.New("transaction already exists")

	// ErrDuplicateBill is returned by stores when a bill already exists for
	// the same account and period.
	ErrDuplicateBill = errors.New("bill already exists for period")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// NotFoundError names the missing reference.
type NotFoundError struct {
	Kind string // "account", "bill", "transaction"
	ID   string
	err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return e.err }

func AccountNotFound(id AccountID) error {
	return &NotFoundError{Kind: "account", ID: string(id), err: ErrAccountNotFound}
}

func BillNotFound(id BillID) error {
	return &NotFoundError{Kind: "bill", ID: string(id), err: ErrBillNotFound}
}

func TransactionNotFound(id TransactionID) error {
	return &NotFoundError{Kind: "transaction", ID: string(id), err: ErrTransactionNotFound}
}

// InvalidTransactionError explains why a transaction cannot be allocated.
type InvalidTransactionError struct {
	TransactionID TransactionID
	Reason        string
}

func (e *InvalidTransactionError) Error() string {
	return fmt.Sprintf("invalid transaction %s: %s", e.TransactionID, e.Reason)
}

func (e *InvalidTransactionError) Unwrap() error { return ErrInvalidTransaction }

// SweepError carries the context of a failed sweep page.
type SweepError struct {
	Trigger    Trigger
	Transition Transition
	Page       int
	Err        error
}

func (e *SweepError) Error() string {
	return fmt.Sprintf("billing sweep (%s) %s page %d: %v", e.Trigger, e.Transition, e.Page, e.Err)
}

func (e *SweepError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing reference.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrBillNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransaction) ||
		errors.Is(err, ErrAmountOutOfRange) ||
		errors.Is(err, ErrAlreadyAllocated) ||
		errors.Is(err, ErrDuplicateTransaction)
}
