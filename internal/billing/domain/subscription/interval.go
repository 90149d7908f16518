package subscription

import (
	"errors"
	"fmt"
	"time"
)

// Interval is the billing cadence of a plan.
type Interval string

const (
	IntervalDaily   Interval = "daily"
	IntervalWeekly  Interval = "weekly"
	IntervalMonthly Interval = "monthly"
	IntervalYearly  Interval = "yearly"
)

// ErrInvalidInterval is returned for an unrecognized billing interval.
// Unknown intervals fail hard instead of leaving the period unchanged.
var ErrInvalidInterval = errors.New("invalid billing interval")

// ErrInvalidIntervalCount is returned when the interval count is not positive.
var ErrInvalidIntervalCount = errors.New("interval count must be positive")

// ParseInterval validates a raw interval string.
func ParseInterval(s string) (Interval, error) {
	switch Interval(s) {
	case IntervalDaily, IntervalWeekly, IntervalMonthly, IntervalYearly:
		return Interval(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}
}

// IsValid reports whether the interval is one of the defined cadences.
func (i Interval) IsValid() bool {
	_, err := ParseInterval(string(i))
	return err == nil
}

// PeriodEnd returns the end of a billing period starting at start.
// Monthly and yearly additions are calendar-aware: a start day past the end
// of the target month clamps to that month's last day (Jan 31 + 1 month is
// Feb 28, or Feb 29 in a leap year).
func PeriodEnd(start time.Time, interval Interval, count int) (time.Time, error) {
	if count < 1 {
		return time.Time{}, fmt.Errorf("%w: %d", ErrInvalidIntervalCount, count)
	}

	switch interval {
	case IntervalDaily:
		return start.AddDate(0, 0, count), nil
	case IntervalWeekly:
		return start.AddDate(0, 0, 7*count), nil
	case IntervalMonthly:
		return addMonthsClamped(start, count), nil
	case IntervalYearly:
		return addMonthsClamped(start, 12*count), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}
}

// addMonthsClamped adds months without the normalization overflow of
// time.AddDate, which would turn Jan 31 + 1 month into Mar 3.
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()

	total := int(month) - 1 + months
	year += total / 12
	month = time.Month(total%12 + 1)

	if last := daysInMonth(year, month); day > last {
		day = last
	}

	hour, min, sec := t.Clock()
	return time.Date(year, month, day, hour, min, sec, t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
