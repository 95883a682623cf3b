package shared

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPeriod indicates a fiscal period outside 1..12.
var ErrInvalidPeriod = errors.New("fiscal period invalid")

// PeriodBounds returns the first and last calendar day of a monthly fiscal
// period whose year starts in January.
func PeriodBounds(fiscalYear, fiscalPeriod int) (time.Time, time.Time, error) {
	if fiscalPeriod < 1 || fiscalPeriod > 12 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %d", ErrInvalidPeriod, fiscalPeriod)
	}
	start := time.Date(fiscalYear, time.Month(fiscalPeriod), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, -1), nil
}

// PeriodOf maps a date to its monthly fiscal year and period.
func PeriodOf(date time.Time) (int, int) {
	return date.Year(), int(date.Month())
}

// PriorPeriod steps back one period, wrapping to period 12 of the prior year.
func PriorPeriod(fiscalYear, fiscalPeriod int) (int, int) {
	if fiscalPeriod <= 1 {
		return fiscalYear - 1, 12
	}
	return fiscalYear, fiscalPeriod - 1
}

// IsPeriodEnd reports whether date is the last day of its month.
func IsPeriodEnd(date time.Time) bool {
	return date.AddDate(0, 0, 1).Day() == 1
}
