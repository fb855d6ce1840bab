package billing_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/billing-engine/billing"
)

// racingStore simulates a concurrent writer inserting the bill between
// FindBill and InsertBill.
type racingStore struct {
	billing.Store
	raced bool
}

func (s *racingStore) InsertBill(ctx context.Context, b billing.Bill) error {
	if !s.raced {
		s.raced = true
		winner := b
		winner.ID = "bill-winner"
		if err := s.Store.InsertBill(ctx, winner); err != nil {
			return err
		}
	}
	return s.Store.InsertBill(ctx, b)
}

// =============================================================================
// FIND-OR-CREATE TESTS
// =============================================================================

func TestFindOrCreateBill_ReusesBillForSamePeriod(t *testing.T) {
	ctx := context.Background()
	card := creditCard("card", 10, 20)
	st := newTestStore(t, card)
	ledger := newTestLedger()

	first, err := ledger.FindOrCreateBill(ctx, st, card, date(2024, time.February, 11))
	require.NoError(t, err)
	second, err := ledger.FindOrCreateBill(ctx, st, card, date(2024, time.March, 10))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, billing.StatusOpen, first.Status)
	assert.True(t, first.TotalAmount.IsZero())
	assert.Equal(t, date(2024, time.March, 20), first.DueDate)

	third, err := ledger.FindOrCreateBill(ctx, st, card, date(2024, time.March, 11))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestFindOrCreateBill_LosingInsertRaceReadsWinner(t *testing.T) {
	// GIVEN: Another writer creates the bill after our lookup
	// WHEN: Our insert hits the unique (account, start) key
	// THEN: The winner's bill is returned

	ctx := context.Background()
	card := creditCard("card", 10, 20)
	st := &racingStore{Store: newTestStore(t, card)}

	bill, err := newTestLedger().FindOrCreateBill(ctx, st, card, date(2024, time.March, 5))
	require.NoError(t, err)
	assert.Equal(t, billing.BillID("bill-winner"), bill.ID)

	bills, err := st.ListBillsByAccount(ctx, "card")
	require.NoError(t, err)
	assert.Len(t, bills, 1)
}

// =============================================================================
// DELTA TESTS
// =============================================================================

func TestApplyDelta(t *testing.T) {
	ctx := context.Background()
	card := creditCard("card", 10, 20)
	st := newTestStore(t, card)
	ledger := newTestLedger()

	bill, err := ledger.FindOrCreateBill(ctx, st, card, date(2024, time.March, 5))
	require.NoError(t, err)

	total, err := ledger.ApplyDelta(ctx, st, bill.ID, money("12.34"))
	require.NoError(t, err)
	assert.Equal(t, "12.34", total.String())

	total, err = ledger.ApplyDelta(ctx, st, bill.ID, money("-2.34"))
	require.NoError(t, err)
	assert.Equal(t, "10.00", total.String())

	// Going below zero is reported; the caller's unit of work rolls back.
	_, err = ledger.ApplyDelta(ctx, st, bill.ID, money("-10.01"))
	assert.ErrorIs(t, err, billing.ErrNegativeTotal)

	_, err = ledger.ApplyDelta(ctx, st, "missing", money("1.00"))
	assert.ErrorIs(t, err, billing.ErrBillNotFound)
}

func TestApplyDelta_TotalPastCentRange(t *testing.T) {
	// GIVEN: A bill holding the largest representable total
	// WHEN: One more cent is added
	// THEN: ErrAmountOutOfRange instead of a wrapped total

	ctx := context.Background()
	card := creditCard("card", 10, 20)
	st := newTestStore(t, card)
	ledger := newTestLedger()

	bill, err := ledger.FindOrCreateBill(ctx, st, card, date(2024, time.April, 5))
	require.NoError(t, err)

	total, err := ledger.ApplyDelta(ctx, st, bill.ID, money("92233720368547758.07"))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), total.Cents())

	_, err = ledger.ApplyDelta(ctx, st, bill.ID, money("0.01"))
	assert.ErrorIs(t, err, billing.ErrAmountOutOfRange)
	assert.True(t, billing.IsClientError(err))
}
