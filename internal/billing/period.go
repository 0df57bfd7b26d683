package billing

import "time"

// Usage periods are UTC calendar months. A period is identified by its
// anchor, the first instant of the month.

// PeriodStart returns the first instant of t's UTC calendar month.
func PeriodStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextPeriodStart returns the start of the period following the one containing anchor.
func NextPeriodStart(anchor time.Time) time.Time {
	return PeriodStart(anchor).AddDate(0, 1, 0)
}

// CrossedPeriod reports whether now falls in a later period than anchor.
// A zero anchor is always crossed.
func CrossedPeriod(anchor, now time.Time) bool {
	if anchor.IsZero() {
		return true
	}
	return PeriodStart(now).After(PeriodStart(anchor))
}

// InPeriod reports whether t falls in the period identified by anchor.
func InPeriod(t, anchor time.Time) bool {
	return PeriodStart(t).Equal(PeriodStart(anchor))
}
