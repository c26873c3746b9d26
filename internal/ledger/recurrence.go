package ledger

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// Period is the cadence of a recurring transaction.
type Period string

const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
	Yearly  Period = "yearly"
)

// Valid reports whether p is a known period.
func (p Period) Valid() bool {
	switch p {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// ParsePeriod parses a recurrence period, case-insensitively.
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: invalid recurrence %q", ErrValidation, s)
	}
	return p, nil
}

// Advance returns the date one period after d.
//
// Months and years overflow the way time.Date normalises them: Jan 31 plus one
// month is Mar 3 (Mar 2 in a leap year) and Feb 29 plus one year is Mar 1.
// Advance panics on an unknown period; callers validate periods first.
func Advance(d civil.Date, p Period) civil.Date {
	switch p {
	case Daily:
		return d.AddDays(1)
	case Weekly:
		return d.AddDays(7)
	case Monthly:
		return civil.DateOf(time.Date(d.Year, d.Month+1, d.Day, 0, 0, 0, 0, time.UTC))
	case Yearly:
		return civil.DateOf(time.Date(d.Year+1, d.Month, d.Day, 0, 0, 0, 0, time.UTC))
	default:
		panic("ledger: unknown period " + string(p))
	}
}
