package periods

import "time"

// PeriodLock marks a closed (year, month). Postings dated inside it are refused.
type PeriodLock struct {
	ID       int64
	Year     int
	Month    time.Month
	LockedBy *int64
	LockedAt time.Time
	Note     string
}

// Key is the (year, month) the lock covers, formatted YYYY-MM.
func (p PeriodLock) Key() string {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
}
