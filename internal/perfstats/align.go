package perfstats

import "time"

const (
	quarterHour = 15 * time.Minute
	day         = 24 * time.Hour
)

// Nearest15Min returns the latest instant at or before t whose minute is one
// of 0, 15, 30 or 45 with zero seconds, in t's location.
func Nearest15Min(t time.Time) time.Time {
	return AlignTo(t, quarterHour)
}

// NearestMidnight returns the latest local midnight at or before t.
func NearestMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// AlignTo returns the latest instant at or before t that is a whole number of
// periods after t's local midnight. The period must evenly divide a day;
// other values are clamped to the day boundary.
func AlignTo(t time.Time, period time.Duration) time.Time {
	midnight := NearestMidnight(t)
	if period <= 0 || period >= day {
		return midnight
	}

	// Wall-clock offset so DST transitions keep quarter-hour marks on the dial.
	offset := time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
	aligned := offset - offset%period

	return time.Date(midnight.Year(), midnight.Month(), midnight.Day(),
		0, 0, 0, int(aligned), t.Location())
}

// rollingStart returns the start of the rolling period containing t for a
// window anchored at start.
func rollingStart(start, t time.Time, period time.Duration) time.Time {
	if start.IsZero() {
		return t
	}
	if t.Before(start) {
		return start
	}

	elapsed := t.Sub(start)
	return start.Add(elapsed - elapsed%period)
}
