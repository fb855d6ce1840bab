/*
Package billing provides the billing cycle and installment allocation engine.

PURPOSE:
  Maps credit-card transactions (optionally split into monthly installments)
  onto the recurring bill of each billing period, keeps bill totals
  consistent across create/update/delete, and advances bill statuses as
  calendar boundaries pass.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal amount with cent precision
  - Account / Transaction: Read-only views of collaborator entities
  - Bill: A statement covering one billing period of one account
  - BillItem: One installment's contribution to a bill

DESIGN PRINCIPLES:
  1. Precision: Money is decimal.Decimal rounded to cents, never float64
  2. Derived dates: Bill dates come from the period resolver only
  3. Type Safety: Distinct ID types for accounts, bills, items, transactions

SEE ALSO:
  - period.go: Billing period resolution
  - ledger.go: Bill find-or-create and total bookkeeping
  - allocator.go: Installment allocation
  - sweep.go: Status transitions
*/
package billing

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal amount at cent precision
// =============================================================================

// MinorUnitDigits is the number of decimal places of the currency minor unit.
const MinorUnitDigits = 2

type Money struct {
	Value decimal.Decimal
}

// Bounds of an amount in minor units; stores keep cents as int64.
var (
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// NewMoney rounds value to the minor unit.
func NewMoney(value decimal.Decimal) Money {
	return Money{Value: value.Round(MinorUnitDigits)}
}

func MoneyFromCents(cents int64) Money {
	return Money{Value: decimal.New(cents, -MinorUnitDigits)}
}

// ParseMoney parses a decimal string such as "300.00". Amounts whose cents
// do not fit in an int64 return ErrAmountOutOfRange.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	m := NewMoney(d)
	if !m.InRange() {
		return Money{}, fmt.Errorf("amount %s: %w", s, ErrAmountOutOfRange)
	}
	return m, nil
}

// MustMoney is ParseMoney for literals. Panics on malformed input.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Cents returns the amount in minor units. Only meaningful when InRange.
func (m Money) Cents() int64 { return m.Value.Shift(MinorUnitDigits).Round(0).IntPart() }

// InRange reports whether the amount in minor units fits in an int64.
func (m Money) InRange() bool {
	cents := m.Value.Shift(MinorUnitDigits).Round(0)
	return !cents.GreaterThan(maxCents) && !cents.LessThan(minCents)
}

func (m Money) Add(o Money) Money { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Neg() Money { return Money{Value: m.Value.Neg()} }
func (m Money) IsZero() bool { return m.Cents() == 0 }
func (m Money) IsNegative() bool { return m.Cents() < 0 }
func (m Money) IsPositive() bool { return m.Cents() > 0 }
func (m Money) Equal(o Money) bool { return m.Cents() == o.Cents() }
func (m Money) String() string { return m.Value.StringFixed(MinorUnitDigits) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type BillID string
type BillItemID string
type TransactionID string

// =============================================================================
// ACCOUNT - Owned by the accounts collaborator, read here
// =============================================================================

type AccountType string

const (
	AccountCredit   AccountType = "CREDIT"
	AccountChecking AccountType = "CHECKING"
	AccountSavings  AccountType = "SAVINGS"
	AccountCash     AccountType = "CASH"
)

func (t AccountType) IsValid() bool {
	switch t {
	case AccountCredit, AccountChecking, AccountSavings, AccountCash:
		return true
	default:
		return false
	}
}

type Account struct {
	ID         AccountID
	Name       string
	Type       AccountType
	ClosingDay int // 1-31, statement cut-off day
	DueDay     int // 1-31, 0 means the configured default
}

// Billable reports whether transactions on this account can land on a bill.
func (a Account) Billable() bool { return a.Type == AccountCredit }

// =============================================================================
// TRANSACTION - Owned by the transactions collaborator, read here
// =============================================================================

type Transaction struct {
	ID           TransactionID
	AccountID    AccountID
	Description  string
	Amount       Money
	Date         time.Time
	Installments int
	AddToBill    bool
}

// =============================================================================
// BILL
// =============================================================================

type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusClosed  Status = "CLOSED"
	StatusOverdue Status = "OVERDUE"
	StatusPaid    Status = "PAID" // reserved for the pay-bill feature; never set here
)

func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusClosed, StatusOverdue, StatusPaid:
		return true
	default:
		return false
	}
}

type Bill struct {
	ID          BillID
	AccountID   AccountID
	StartDate   time.Time
	EndDate     time.Time
	DueDate     time.Time
	TotalAmount Money
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Period returns the billing period the bill covers.
func (b Bill) Period() Period {
	return Period{Start: b.StartDate, End: b.EndDate, Due: b.DueDate}
}

type BillItem struct {
	ID                BillItemID
	BillID            BillID
	TransactionID     TransactionID
	Amount            Money
	InstallmentNumber int
	CreatedAt         time.Time
}
