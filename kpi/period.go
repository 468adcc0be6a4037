package kpi

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// =============================================================================
// PERIOD - The measurement window a record belongs to
// =============================================================================

// Period is the date range behind a period label. Records carry the label;
// the range fills in start and end dates that were not given explicitly.
//
// Supported labels:
//   - Year:     "2024"     Jan 1 - Dec 31
//   - Half:     "2024-H2"  Jul 1 - Dec 31
//   - Quarter:  "2024-Q3"  Jul 1 - Sep 30
//   - Month:    "2024-03"  Mar 1 - Mar 31
type Period struct {
	Label string
	Start time.Time // first day, UTC midnight
	End   time.Time // last day, UTC midnight
}

// PeriodType defines the length of a period
type PeriodType string

const (
	PeriodYear    PeriodType = "year"
	PeriodHalf    PeriodType = "half"
	PeriodQuarter PeriodType = "quarter"
	PeriodMonth   PeriodType = "month"
)

var periodPattern = regexp.MustCompile(`^(\d{4})(?:-(H[12]|Q[1-4]|\d{2}))?$`)

// ParsePeriod resolves a label to its date range.
func ParsePeriod(label string) (Period, error) {
	m := periodPattern.FindStringSubmatch(label)
	if m == nil {
		return Period{}, fmt.Errorf("%w: unrecognized period %q", ErrInvalidRecord, label)
	}
	year, _ := strconv.Atoi(m[1])

	var startMonth time.Month
	var months int
	switch part := m[2]; {
	case part == "":
		startMonth, months = time.January, 12
	case part[0] == 'H':
		startMonth, months = time.Month(1+6*int(part[1]-'1')), 6
	case part[0] == 'Q':
		startMonth, months = time.Month(1+3*int(part[1]-'1')), 3
	default:
		n, _ := strconv.Atoi(part)
		if n < 1 || n > 12 {
			return Period{}, fmt.Errorf("%w: unrecognized period %q", ErrInvalidRecord, label)
		}
		startMonth, months = time.Month(n), 1
	}

	start := time.Date(year, startMonth, 1, 0, 0, 0, 0, time.UTC)
	return Period{
		Label: label,
		Start: start,
		End:   start.AddDate(0, months, -1),
	}, nil
}

// Type reports the period length.
func (p Period) Type() PeriodType {
	switch months := monthsBetween(p.Start, p.End.AddDate(0, 0, 1)); months {
	case 12:
		return PeriodYear
	case 6:
		return PeriodHalf
	case 3:
		return PeriodQuarter
	}
	return PeriodMonth
}

// Contains returns true if t falls on a day within [Start, End]
func (p Period) Contains(t time.Time) bool {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return !day.Before(p.Start) && !day.After(p.End)
}

func monthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()-a.Month())
}
