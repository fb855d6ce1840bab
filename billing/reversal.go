package billing

import (
	"context"
	"fmt"
	"log/slog"
)

// =============================================================================
// ALLOCATION REVERSAL
// =============================================================================

// Reverser undoes the allocation of a transaction.
type Reverser struct {
	Ledger *Ledger
	Logger *slog.Logger
}

// NewReverser creates a reverser on top of ledger.
func NewReverser(ledger *Ledger, logger *slog.Logger) *Reverser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reverser{Ledger: ledger, Logger: logger.With("component", "billing.reversal")}
}

// Revert removes every item of txID, subtracts each from its bill, and drops
// bills left with a zero total and no items. A transaction without items is
// a no-op. Returns the IDs of deleted bills.
//
// Must run inside the caller's unit of work.
func (r *Reverser) Revert(ctx context.Context, s Store, txID TransactionID) ([]BillID, error) {
	items, err := s.ItemsByTransaction(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("load items of %s: %w", txID, err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	// Group by bill, keeping first-seen bill order.
	var order []BillID
	byBill := make(map[BillID][]BillItem)
	for _, item := range items {
		if _, seen := byBill[item.BillID]; !seen {
			order = append(order, item.BillID)
		}
		byBill[item.BillID] = append(byBill[item.BillID], item)
	}

	var deleted []BillID
	for _, billID := range order {
		var total Money
		for _, item := range byBill[billID] {
			total, err = r.Ledger.ApplyDelta(ctx, s, billID, item.Amount.Neg())
			if err != nil {
				return nil, err
			}
			if err := s.DeleteBillItem(ctx, item.ID); err != nil {
				return nil, fmt.Errorf("delete item %s: %w", item.ID, err)
			}
		}

		if !total.IsZero() {
			continue
		}
		remaining, err := s.CountBillItems(ctx, billID)
		if err != nil {
			return nil, fmt.Errorf("count items of bill %s: %w", billID, err)
		}
		if remaining > 0 {
			continue
		}
		if err := s.DeleteBill(ctx, billID); err != nil {
			return nil, fmt.Errorf("delete empty bill %s: %w", billID, err)
		}
		deleted = append(deleted, billID)
	}

	r.Logger.Debug("allocation reverted",
		"transaction", txID,
		"items", len(items),
		"bills_deleted", len(deleted))

	return deleted, nil
}
