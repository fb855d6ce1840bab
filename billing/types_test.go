package billing_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/billing-engine/billing"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in        string
		want      string
		wantRange bool
		wantErr   bool
	}{
		{in: "300", want: "300.00"},
		{in: "33.335", want: "33.34"},
		{in: "-5.5", want: "-5.50"},
		{in: "92233720368547758.07", want: "92233720368547758.07"},
		{in: "-92233720368547758.08", want: "-92233720368547758.08"},
		{in: "92233720368547758.08", wantRange: true},
		{in: "-92233720368547758.09", wantRange: true},
		{in: "184467440737095517.16", wantRange: true},
		{in: "1e30", wantRange: true},
		{in: "lots", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			m, err := billing.ParseMoney(tt.in)
			switch {
			case tt.wantRange:
				assert.ErrorIs(t, err, billing.ErrAmountOutOfRange)
				assert.True(t, billing.IsClientError(err))
			case tt.wantErr:
				assert.Error(t, err)
				assert.NotErrorIs(t, err, billing.ErrAmountOutOfRange)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, m.String())
				assert.True(t, m.InRange())
			}
		})
	}
}

func TestMoney_CentsAtTheBounds(t *testing.T) {
	// GIVEN: The extreme amounts ParseMoney accepts
	// WHEN: Converted to cents
	// THEN: They map onto the int64 bounds without wrapping

	assert.Equal(t, int64(math.MaxInt64), money("92233720368547758.07").Cents())
	assert.Equal(t, int64(math.MinInt64), money("-92233720368547758.08").Cents())

	over := money("92233720368547758.07").Add(money("0.01"))
	assert.False(t, over.InRange())
	assert.True(t, billing.MoneyFromCents(math.MaxInt64).InRange())
}

func TestStatus_IsValid(t *testing.T) {
	for _, s := range []billing.Status{billing.StatusOpen, billing.StatusClosed, billing.StatusOverdue, billing.StatusPaid} {
		assert.True(t, s.IsValid(), string(s))
	}
	assert.False(t, billing.Status("SETTLED").IsValid())
	assert.False(t, billing.Status("").IsValid())
}
