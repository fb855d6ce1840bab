package billing

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - The date range one bill covers
// =============================================================================

// Period is a billing period. Start and End are inclusive calendar dates
// (UTC midnight). Due is the payment due date of the bill for the period.
//
// For one account, periods partition time: each starts the day after the
// previous closing date and ends on the next closing date.
type Period struct {
	Start time.Time
	End   time.Time
	Due   time.Time
}

// Contains returns true if date falls within [Start, End].
func (p Period) Contains(date time.Time) bool {
	d := DateOf(date)
	return !d.Before(p.Start) && !d.After(p.End)
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.Format(DateLayout) + ".." + p.End.Format(DateLayout) + "]"
}

// =============================================================================
// RESOLVER
// =============================================================================

// ResolvePeriod returns the billing period containing referenceDate for an
// account that closes on closingDay, with payment due on dueDay of the
// closing month. Days beyond a month's length are clamped to its last day.
//
//	closingDay=15, 2024-01-20 -> [2024-01-16..2024-02-15], due 2024-02-10 (dueDay=10)
//	closingDay=10, 2024-03-05 -> [2024-02-11..2024-03-10]
//
// Pure: the same inputs always give the same period.
func ResolvePeriod(referenceDate time.Time, closingDay, dueDay int) Period {
	ref := DateOf(referenceDate)
	year, month := ref.Year(), ref.Month()

	closing := dateClamped(year, month, closingDay)

	var end time.Time
	if ref.After(closing) {
		end = dateClamped(year, month+1, closingDay)
	} else {
		end = closing
	}
	prevClosing := dateClamped(end.Year(), end.Month()-1, closingDay)

	return Period{
		Start: prevClosing.AddDate(0, 0, 1),
		End:   end,
		Due:   dateClamped(end.Year(), end.Month(), dueDay),
	}
}

// PeriodResolver resolves periods for accounts, filling in the configured
// due day when the account has none.
type PeriodResolver struct {
	DefaultDueDay int
}

// NewPeriodResolver creates a resolver with the given default due day.
func NewPeriodResolver(defaultDueDay int) PeriodResolver {
	return PeriodResolver{DefaultDueDay: defaultDueDay}
}

// For returns the period of account containing date.
func (r PeriodResolver) For(account Account, date time.Time) Period {
	return ResolvePeriod(date, account.ClosingDay, r.dueDay(account))
}

func (r PeriodResolver) dueDay(account Account) int {
	if account.DueDay > 0 {
		return account.DueDay
	}
	return r.DefaultDueDay
}

// ValidateDay checks a day-of-month setting.
func ValidateDay(name string, day int) error {
	if day < 1 || day > 31 {
		return fmt.Errorf("%s must be between 1 and 31, got %d", name, day)
	}
	return nil
}

// =============================================================================
// DATE UTILITIES
// =============================================================================

// DateLayout is the wire and storage format of calendar dates.
const DateLayout = "2006-01-02"

// DateOf returns the calendar date of t as UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewDate builds a calendar date.
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// AddMonths moves date by n months, clamping the day so that Jan 31 + 1
// month is Feb 28/29 rather than Mar 2/3.
func AddMonths(date time.Time, n int) time.Time {
	d := DateOf(date)
	return dateClamped(d.Year(), d.Month()+time.Month(n), d.Day())
}

// TodayIn returns the current calendar date in loc.
func TodayIn(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(now.In(loc))
}

// daysIn returns the number of days in month, normalizing month overflow.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// dateClamped builds year/month/day with day clamped to [1, days in month].
// Month may be out of range; it is normalized first.
func dateClamped(year int, month time.Month, day int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := daysIn(first.Year(), first.Month())
	if day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}
