package recon

import "time"

// Windows are the day-granular lookback windows, counted from the start of the current day.
type Windows struct {
	PendingDays        int
	StatusLookbackDays int
	UnresolvedDays     int
}

func DefaultWindows() Windows {
	return Windows{PendingDays: 10, StatusLookbackDays: 30, UnresolvedDays: 10}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Pending covers the last PendingDays days including today.
func (w Windows) Pending(now time.Time) (since, until time.Time) {
	today := startOfDay(now)
	return today.AddDate(0, 0, -w.PendingDays), today.AddDate(0, 0, 1)
}

func (w Windows) StatusSince(now time.Time) time.Time {
	return startOfDay(now).AddDate(0, 0, -w.StatusLookbackDays)
}

func (w Windows) Unresolved(now time.Time) (since, until time.Time) {
	today := startOfDay(now)
	return today.AddDate(0, 0, -w.UnresolvedDays), today.AddDate(0, 0, 1)
}
