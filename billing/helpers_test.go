package billing_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/billing/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(year int, month time.Month, day int) time.Time {
	return billing.NewDate(year, month, day)
}

func money(s string) billing.Money {
	return billing.MustMoney(s)
}

// sequentialIDs returns an ID generator yielding prefix-1, prefix-2, ...
func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func newTestLedger() *billing.Ledger {
	ledger := billing.NewLedger(billing.NewPeriodResolver(10))
	ledger.NewID = sequentialIDs("id")
	ledger.Now = func() time.Time { return time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC) }
	return ledger
}

func newTestStore(t *testing.T, accounts ...billing.Account) *store.TxMemory {
	t.Helper()
	st := store.NewTxMemory()
	for _, a := range accounts {
		require.NoError(t, st.SaveAccount(context.Background(), a))
	}
	return st
}

func creditCard(id string, closingDay, dueDay int) billing.Account {
	return billing.Account{
		ID:         billing.AccountID(id),
		Name:       "Card " + id,
		Type:       billing.AccountCredit,
		ClosingDay: closingDay,
		DueDay:     dueDay,
	}
}

func purchase(id, accountID, amount string, on time.Time, installments int) billing.Transaction {
	return billing.Transaction{
		ID:           billing.TransactionID(id),
		AccountID:    billing.AccountID(accountID),
		Description:  "purchase " + id,
		Amount:       money(amount),
		Date:         on,
		Installments: installments,
		AddToBill:    true,
	}
}

// billTotals maps bill start dates (YYYY-MM-DD) to totals for an account.
func billTotals(t *testing.T, s billing.Store, accountID string) map[string]string {
	t.Helper()
	bills, err := s.ListBillsByAccount(context.Background(), billing.AccountID(accountID))
	require.NoError(t, err)
	totals := make(map[string]string, len(bills))
	for _, b := range bills {
		totals[b.StartDate.Format(billing.DateLayout)] = b.TotalAmount.String()
	}
	return totals
}

// insertBill stores a bill directly, bypassing allocation.
func insertBill(t *testing.T, s billing.Store, id string, status billing.Status, start, end, due time.Time) {
	t.Helper()
	require.NoError(t, s.InsertBill(context.Background(), billing.Bill{
		ID:          billing.BillID(id),
		AccountID:   "card",
		StartDate:   start,
		EndDate:     end,
		DueDate:     due,
		TotalAmount: money("10.00"),
		Status:      status,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}))
}

func billStatus(t *testing.T, s billing.Store, id string) billing.Status {
	t.Helper()
	b, err := s.GetBill(context.Background(), billing.BillID(id))
	require.NoError(t, err)
	return b.Status
}
