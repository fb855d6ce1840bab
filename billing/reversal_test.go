package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// REVERSAL TESTS
// =============================================================================

func TestRevert_RestoresStateAndDropsEmptyBills(t *testing.T) {
	// GIVEN: 300.00 in 3 installments allocated into three new bills
	// WHEN: The allocation is reverted
	// THEN: All three bills are deleted and no items remain

	ctx := context.Background()
	st := newTestStore(t, creditCard("card", 10, 20))
	ledger := newTestLedger()
	allocator := billing.NewAllocator(ledger, nil)
	reverser := billing.NewReverser(ledger, nil)

	items, err := allocator.Allocate(ctx, st, purchase("tx-1", "card", "300.00", date(2024, time.March, 5), 3))
	require.NoError(t, err)

	deleted, err := reverser.Revert(ctx, st, "tx-1")
	require.NoError(t, err)

	assert.Equal(t, []billing.BillID{items[0].BillID, items[1].BillID, items[2].BillID}, deleted)
	assert.Empty(t, billTotals(t, st, "card"))

	remaining, err := st.ItemsByTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestRevert_KeepsBillsWithOtherItems(t *testing.T) {
	// GIVEN: A 100.00 purchase and a 300.00 x3 purchase in the same period
	// WHEN: The installment purchase is reverted
	// THEN: The shared bill keeps 100.00, the two later bills are deleted

	ctx := context.Background()
	st := newTestStore(t, creditCard("card", 10, 20))
	ledger := newTestLedger()
	allocator := billing.NewAllocator(ledger, nil)
	reverser := billing.NewReverser(ledger, nil)

	_, err := allocator.Allocate(ctx, st, purchase("tx-single", "card", "100.00", date(2024, time.March, 1), 1))
	require.NoError(t, err)
	_, err = allocator.Allocate(ctx, st, purchase("tx-split", "card", "300.00", date(2024, time.March, 5), 3))
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"2024-02-11": "200.00",
		"2024-03-11": "100.00",
		"2024-04-11": "100.00",
	}, billTotals(t, st, "card"))

	deleted, err := reverser.Revert(ctx, st, "tx-split")
	require.NoError(t, err)
	assert.Len(t, deleted, 2)

	assert.Equal(t, map[string]string{"2024-02-11": "100.00"}, billTotals(t, st, "card"))
}

func TestRevert_ThenAllocateIsIdempotent(t *testing.T) {
	// GIVEN: An allocated transaction
	// WHEN: Reverted and allocated again with the same data
	// THEN: Bill totals match the first allocation

	ctx := context.Background()
	st := newTestStore(t, creditCard("card", 15, 10))
	ledger := newTestLedger()
	allocator := billing.NewAllocator(ledger, nil)
	reverser := billing.NewReverser(ledger, nil)
	tx := purchase("tx-1", "card", "100.00", date(2024, time.January, 20), 3)

	_, err := allocator.Allocate(ctx, st, tx)
	require.NoError(t, err)
	before := billTotals(t, st, "card")

	_, err = reverser.Revert(ctx, st, tx.ID)
	require.NoError(t, err)
	_, err = allocator.Allocate(ctx, st, tx)
	require.NoError(t, err)

	assert.Equal(t, before, billTotals(t, st, "card"))
}

func TestRevert_NoItemsIsNoop(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, creditCard("card", 10, 20))

	deleted, err := billing.NewReverser(newTestLedger(), nil).Revert(ctx, st, "tx-unknown")
	require.NoError(t, err)
	assert.Empty(t, deleted)
}
