package usage

import "time"

const secondsPerDay = 86400

// DayBucket is the UTC day number of t: unix seconds divided by 86400,
// rounded toward negative infinity.
func DayBucket(t time.Time) int64 {
	sec := t.Unix()
	day := sec / secondsPerDay
	if sec%secondsPerDay < 0 {
		day--
	}
	return day
}

// YearMonth is the UTC calendar month of t, formatted as 2006-01.
func YearMonth(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// DayStart returns the first instant of a day bucket.
func DayStart(day int64) time.Time {
	return time.Unix(day*secondsPerDay, 0).UTC()
}
