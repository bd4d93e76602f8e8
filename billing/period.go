package billing

import (
	"fmt"
	"time"

	"github.com/samber/lo"
)

// =============================================================================
// PERIOD - One billing cycle, derived and never persisted
// =============================================================================

// Period is one billing cycle [Start, End). Due equals End: a period is
// payable once it has fully elapsed.
type Period struct {
	Index int
	Start time.Time
	End   time.Time
	Due   time.Time
}

// Contains returns true if t falls within [Start, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// IsDue reports whether the period's due date has been reached as of asOf.
func (p Period) IsDue(asOf time.Time) bool {
	return !p.Due.After(Day(asOf))
}

func (p Period) String() string {
	return fmt.Sprintf("#%d [%s, %s)", p.Index, FormatDate(p.Start), FormatDate(p.End))
}

// =============================================================================
// PERIOD GENERATOR
// =============================================================================

// GeneratePeriods returns the consecutive billing periods from enrollment up
// to asOf. Period k spans [enrollment+(k-1)*cycle, enrollment+k*cycle).
//
// Only periods that have begun are emitted (Start < asOf): a period starting
// exactly on asOf is excluded. The last emitted period may still be running;
// use IsDue or DuePeriods to keep the ones that can be overdue.
//
// An enrollment date after asOf yields an empty sequence, not an error.
func GeneratePeriods(enrollment time.Time, cycleLengthDays int, asOf time.Time) ([]Period, error) {
	if cycleLengthDays <= 0 {
		return nil, &ConfigurationError{
			Field:  "cycle_length_days",
			Reason: fmt.Sprintf("must be >= 1, got %d", cycleLengthDays),
		}
	}

	horizon := Day(asOf)
	start := Day(enrollment)

	var periods []Period
	for k := 1; start.Before(horizon); k++ {
		end := start.AddDate(0, 0, cycleLengthDays)
		periods = append(periods, Period{Index: k, Start: start, End: end, Due: end})
		start = end
	}
	return periods, nil
}

// PeriodAt returns the period containing date. Dates before enrollment map
// to the first period.
func PeriodAt(enrollment time.Time, cycleLengthDays int, date time.Time) (Period, error) {
	if cycleLengthDays <= 0 {
		return Period{}, &ConfigurationError{
			Field:  "cycle_length_days",
			Reason: fmt.Sprintf("must be >= 1, got %d", cycleLengthDays),
		}
	}

	elapsed := DaysBetween(enrollment, date)
	k := 0
	if elapsed > 0 {
		k = elapsed / cycleLengthDays
	}
	start := AddDays(enrollment, k*cycleLengthDays)
	end := start.AddDate(0, 0, cycleLengthDays)
	return Period{Index: k + 1, Start: start, End: end, Due: end}, nil
}

// DuePeriods keeps the periods whose due date is on or before asOf.
func DuePeriods(periods []Period, asOf time.Time) []Period {
	return lo.Filter(periods, func(p Period, _ int) bool {
		return p.IsDue(asOf)
	})
}
