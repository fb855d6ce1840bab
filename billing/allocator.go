package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// =============================================================================
// INSTALLMENT ALLOCATOR
// =============================================================================

// Allocator spreads a transaction over the bills of consecutive periods, one
// installment per period starting with the period of the transaction date.
type Allocator struct {
	Ledger *Ledger
	Logger *slog.Logger
}

// NewAllocator creates an allocator on top of ledger.
func NewAllocator(ledger *Ledger, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{Ledger: ledger, Logger: logger.With("component", "billing.allocator")}
}

// Allocate creates the bill items of tx and moves the totals of their bills.
// Transactions not flagged AddToBill, or on non-CREDIT accounts, are ignored.
//
// Must run inside the same unit of work that persisted tx. A transaction
// that already has items returns ErrAlreadyAllocated: revert first.
func (a *Allocator) Allocate(ctx context.Context, s Store, tx Transaction) ([]BillItem, error) {
	if !tx.AddToBill {
		return nil, nil
	}

	account, err := s.GetAccount(ctx, tx.AccountID)
	if err != nil {
		return nil, err
	}
	if !account.Billable() {
		return nil, nil
	}

	if err := validateForAllocation(tx); err != nil {
		return nil, err
	}

	existing, err := s.ItemsByTransaction(ctx, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("load items of %s: %w", tx.ID, err)
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("transaction %s has %d items: %w", tx.ID, len(existing), ErrAlreadyAllocated)
	}

	amounts := SplitInstallments(tx.Amount, tx.Installments)
	items := make([]BillItem, 0, len(amounts))
	base := a.Ledger.Resolver.For(*account, tx.Date)

	for i, amount := range amounts {
		bill, err := a.Ledger.FindOrCreateBill(ctx, s, *account, installmentDate(base, account.ClosingDay, i))
		if err != nil {
			return nil, err
		}

		item := BillItem{
			ID:                BillItemID(a.Ledger.NewID()),
			BillID:            bill.ID,
			TransactionID:     tx.ID,
			Amount:            amount,
			InstallmentNumber: i + 1,
			CreatedAt:         a.Ledger.Now().UTC(),
		}
		if err := s.InsertBillItem(ctx, item); err != nil {
			return nil, fmt.Errorf("insert installment %d of %s: %w", i+1, tx.ID, err)
		}

		if _, err := a.Ledger.ApplyDelta(ctx, s, bill.ID, amount); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	a.Logger.Debug("transaction allocated",
		"transaction", tx.ID,
		"account", tx.AccountID,
		"amount", tx.Amount.String(),
		"installments", len(items))

	return items, nil
}

// installmentDate returns the closing date of the period i months after base.
// A closing date always resolves to its own period, so consecutive
// installments never share a bill even when the closing day is clamped.
func installmentDate(base Period, closingDay, i int) time.Time {
	return dateClamped(base.End.Year(), base.End.Month()+time.Month(i), closingDay)
}

func validateForAllocation(tx Transaction) error {
	if tx.Installments < 1 {
		return &InvalidTransactionError{TransactionID: tx.ID, Reason: fmt.Sprintf("installments must be at least 1, got %d", tx.Installments)}
	}
	if !tx.Amount.InRange() {
		return &InvalidTransactionError{TransactionID: tx.ID, Reason: fmt.Sprintf("amount %s: %v", tx.Amount, ErrAmountOutOfRange)}
	}
	if !tx.Amount.IsPositive() {
		return &InvalidTransactionError{TransactionID: tx.ID, Reason: fmt.Sprintf("amount must be positive, got %s", tx.Amount)}
	}
	return nil
}

// SplitInstallments divides amount into n installments of whole cents.
// Every installment is floor(amount/n); the last one also takes the
// remainder, so the parts always sum to amount exactly.
//
//	100.00 / 3 -> 33.33, 33.33, 33.34
//
// Returns nil for n < 1.
func SplitInstallments(amount Money, n int) []Money {
	if n < 1 {
		return nil
	}

	total := amount.Cents()
	base := total / int64(n)
	remainder := total - base*int64(n)

	parts := make([]Money, n)
	for i := range parts {
		parts[i] = MoneyFromCents(base)
	}
	parts[n-1] = MoneyFromCents(base + remainder)
	return parts
}
