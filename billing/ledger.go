/*
ledger.go - Bill find-or-create and total bookkeeping

PURPOSE:
  The Ledger owns the two operations every allocation and reversal goes
  through: locating (or opening) the bill of a period, and moving its total.

CRITICAL INVARIANTS:
  1. ONE BILL PER PERIOD: At most one bill per (account, period start)
  2. EXISTS FIRST: A bill is persisted before any item references it
  3. NON-NEGATIVE: A total never commits below zero
  4. ATOMIC TOTALS: Totals move by storage-level increments, never by
     read-modify-write in Go

FIND-OR-CREATE FLOW:
  1. Resolve the period containing the date
  2. FindBill(account, start) - locks the row where supported
  3. If absent: InsertBill{total 0, OPEN}
  4. If another writer inserted first (ErrDuplicateBill): read theirs

SEE ALSO:
  - period.go: Period resolution
  - store.go: Serialization guarantees of the store
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger finds bills and applies total deltas within a caller's unit of work.
type Ledger struct {
	Resolver PeriodResolver

	// NewID generates bill and item IDs. Defaults to random UUIDs.
	NewID func() string
	// Now stamps CreatedAt / UpdatedAt. Defaults to time.Now.
	Now func() time.Time
}

// NewLedger creates a ledger resolving periods with resolver.
func NewLedger(resolver PeriodResolver) *Ledger {
	return &Ledger{
		Resolver: resolver,
		NewID:    uuid.NewString,
		Now:      time.Now,
	}
}

// FindOrCreateBill returns the bill of account covering date, creating an
// empty OPEN bill for the period when none exists.
func (l *Ledger) FindOrCreateBill(ctx context.Context, s Store, account Account, date time.Time) (*Bill, error) {
	period := l.Resolver.For(account, date)

	bill, err := s.FindBill(ctx, account.ID, period.Start)
	if err != nil {
		return nil, fmt.Errorf("find bill %s %s: %w", account.ID, period, err)
	}
	if bill != nil {
		return bill, nil
	}

	now := l.Now().UTC()
	newBill := Bill{
		ID:          BillID(l.NewID()),
		AccountID:   account.ID,
		StartDate:   period.Start,
		EndDate:     period.End,
		DueDate:     period.Due,
		TotalAmount: MoneyFromCents(0),
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.InsertBill(ctx, newBill)
	switch {
	case err == nil:
		return &newBill, nil
	case errors.Is(err, ErrDuplicateBill):
		// Lost the insert race; the winner's bill is the one to use.
		bill, err = s.FindBill(ctx, account.ID, period.Start)
		if err != nil {
			return nil, fmt.Errorf("re-read bill %s %s: %w", account.ID, period, err)
		}
		if bill == nil {
			return nil, fmt.Errorf("bill %s %s vanished after duplicate insert", account.ID, period)
		}
		return bill, nil
	default:
		return nil, fmt.Errorf("insert bill %s %s: %w", account.ID, period, err)
	}
}

// ApplyDelta adds delta to the bill total and returns the new total.
// A negative result returns ErrNegativeTotal and one past the cent range
// returns ErrAmountOutOfRange; the caller's unit of work must roll back.
func (l *Ledger) ApplyDelta(ctx context.Context, s Store, billID BillID, delta Money) (Money, error) {
	total, err := s.AddToBillTotal(ctx, billID, delta)
	if err != nil {
		return Money{}, fmt.Errorf("apply %s to bill %s: %w", delta, billID, err)
	}
	if !total.InRange() {
		return total, fmt.Errorf("bill %s total %s: %w", billID, total, ErrAmountOutOfRange)
	}
	if total.IsNegative() {
		return total, fmt.Errorf("bill %s total %s: %w", billID, total, ErrNegativeTotal)
	}
	return total, nil
}
