package membill

import "time"

// CycleBounds computes the inclusive end date of the cycle starting at
// start, and the start date of the cycle after it. nextStart is always
// end + 1 day, which is what keeps successive cycles contiguous and
// non-overlapping.
//
// Month arithmetic clamps to the last valid day of the target month
// rather than overflowing. For example, a monthly cycle starting Jan 31:
//   - 2024-01-31 -> end 2024-02-28, nextStart 2024-02-29 (leap year)
//   - 2023-01-31 -> end 2023-02-27, nextStart 2023-02-28
//
// CadenceCustom has no progression rule and is rejected; the caller must
// resolve custom cycle bounds itself.
func CycleBounds(start time.Time, cadence Cadence) (end, nextStart time.Time, err error) {
	months, ok := cadenceMonths(cadence)
	if !ok {
		return time.Time{}, time.Time{}, ErrInvalidCadence
	}
	s := StartOfDayUTC(start)
	next := addMonthsClamped(s, months)
	return next.AddDate(0, 0, -1), next, nil
}

func cadenceMonths(c Cadence) (int, bool) {
	switch c {
	case CadenceMonthly:
		return 1, true
	case CadenceQuarterly:
		return 3, true
	case CadenceYearly:
		return 12, true
	}
	return 0, false
}

// addMonthsClamped adds months to a date, clamping to the last day of the
// target month when the source day does not exist there (e.g. Jan 31 + 1
// month lands on Feb 28/29, not Mar 2). Standard Go pattern: build the
// target month with day=1 to avoid AddDate overflow, then clip the day.
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	target := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, time.UTC)

	// day=0 of month+1 is the last day of month
	lastDay := time.Date(target.Year(), target.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > lastDay {
		day = lastDay
	}

	return time.Date(target.Year(), target.Month(), day, 0, 0, 0, 0, time.UTC)
}
