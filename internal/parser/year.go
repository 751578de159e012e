package parser

import "time"

// InferYear returns the year of the soonest occurrence of month/day that is
// not before today. A month/day already behind today rolls to a later year;
// today itself counts as upcoming so same-day expirations stay in this year.
// It does not roll a date equal to today forward: an alert naming today's
// date is a 0DTE trade, never one a year out.
// Feb 29 resolves to the next leap year.
func InferYear(month time.Month, day int, today time.Time) int {
	today = startOfDay(today)
	year := today.Year()
	for i := 0; i < 8; i++ {
		candidate := time.Date(year+i, month, day, 0, 0, 0, 0, today.Location())
		if candidate.Day() != day {
			continue
		}
		if !candidate.Before(today) {
			return year + i
		}
	}
	return year + 1
}
